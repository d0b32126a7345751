package config

import "strings"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":8700"
	defaultAppLogPath      = "data/logs/maru.log"
	defaultDatabasePath    = "data/maru.db"
	defaultCandleDir       = "data/candles"
	defaultExchangeBaseURL = "https://api.bithumb.com"
	defaultExchangeTimeout = 10
	defaultExchangeRate    = 8.0
	defaultBreakerFails    = 5
	defaultBreakerCooldown = 30
	defaultTradingInterval = 60
	defaultCandleInterval  = "1m"
	defaultCandleCount     = 200
	defaultBacktestBalance = 1_000_000
	defaultBacktestFeeRate = 0.0025
	defaultBacktestRuns    = 2
	defaultTrialParallel   = 4
	defaultBacktestTrials  = 50
	defaultBacktestSeed    = 42
	defaultRegistryPath    = "configs/strategies.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Database.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Registry.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("database.path", &d.Path, defaultDatabasePath),
		stringFieldDefault("database.candle_dir", &d.CandleDir, defaultCandleDir),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.base_url", &e.BaseURL, defaultExchangeBaseURL),
		fieldDefault{
			key:   "exchange.timeout_seconds",
			need:  func() bool { return e.TimeoutSeconds <= 0 },
			apply: func() { e.TimeoutSeconds = defaultExchangeTimeout },
		},
		fieldDefault{
			key:   "exchange.rate_limit_per_sec",
			need:  func() bool { return e.RateLimitPerSec <= 0 },
			apply: func() { e.RateLimitPerSec = defaultExchangeRate },
		},
		fieldDefault{
			key:   "exchange.breaker_threshold",
			need:  func() bool { return e.BreakerThreshold <= 0 },
			apply: func() { e.BreakerThreshold = defaultBreakerFails },
		},
		fieldDefault{
			key:   "exchange.breaker_cooldown_seconds",
			need:  func() bool { return e.BreakerCooldownSeconds <= 0 },
			apply: func() { e.BreakerCooldownSeconds = defaultBreakerCooldown },
		},
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("trading.enabled", &t.Enabled, false),
		stringFieldDefault("trading.candle_interval", &t.CandleInterval, defaultCandleInterval),
		fieldDefault{
			key:   "trading.interval_seconds",
			need:  func() bool { return t.IntervalSeconds <= 0 },
			apply: func() { t.IntervalSeconds = defaultTradingInterval },
		},
		fieldDefault{
			key:   "trading.candle_count",
			need:  func() bool { return t.CandleCount <= 0 },
			apply: func() { t.CandleCount = defaultCandleCount },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.initial_balance_krw",
			need:  func() bool { return b.InitialBalanceKRW <= 0 },
			apply: func() { b.InitialBalanceKRW = defaultBacktestBalance },
		},
		fieldDefault{
			key:   "backtest.fee_rate",
			need:  func() bool { return b.FeeRate <= 0 },
			apply: func() { b.FeeRate = defaultBacktestFeeRate },
		},
		fieldDefault{
			key:   "backtest.max_concurrent_runs",
			need:  func() bool { return b.MaxConcurrentRuns <= 0 },
			apply: func() { b.MaxConcurrentRuns = defaultBacktestRuns },
		},
		fieldDefault{
			key:   "backtest.trial_parallel",
			need:  func() bool { return b.TrialParallel <= 0 },
			apply: func() { b.TrialParallel = defaultTrialParallel },
		},
		fieldDefault{
			key:   "backtest.trials",
			need:  func() bool { return b.Trials <= 0 },
			apply: func() { b.Trials = defaultBacktestTrials },
		},
		fieldDefault{
			key:   "backtest.seed",
			need:  func() bool { return b.Seed == 0 },
			apply: func() { b.Seed = defaultBacktestSeed },
		},
	)
}

func (r *RegistryConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("registry.path", &r.Path, defaultRegistryPath),
		boolFieldDefault("registry.watch", &r.Watch, true),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
