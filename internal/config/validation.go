package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(c.Trading.Enabled); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Registry.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("database.path cannot be empty")
	}
	if strings.TrimSpace(d.CandleDir) == "" {
		return fmt.Errorf("database.candle_dir cannot be empty")
	}
	return nil
}

func (e *ExchangeConfig) validate(tradingEnabled bool) error {
	if strings.TrimSpace(e.BaseURL) == "" {
		return fmt.Errorf("exchange.base_url cannot be empty")
	}
	if e.TimeoutSeconds <= 0 {
		return fmt.Errorf("exchange.timeout_seconds must be > 0")
	}
	if e.RateLimitPerSec <= 0 {
		return fmt.Errorf("exchange.rate_limit_per_sec must be > 0")
	}
	if e.BreakerThreshold <= 0 {
		return fmt.Errorf("exchange.breaker_threshold must be > 0")
	}
	if tradingEnabled && !e.HasCredentials() {
		return fmt.Errorf("trading.enabled=true 时 exchange.access_key/secret_key 不能为空")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.IntervalSeconds < 5 {
		return fmt.Errorf("trading.interval_seconds must be >= 5")
	}
	if !IsValidInterval(t.CandleInterval) {
		return fmt.Errorf("trading.candle_interval invalid: %s", t.CandleInterval)
	}
	if t.CandleCount < 30 || t.CandleCount > 1000 {
		return fmt.Errorf("trading.candle_count must be in [30,1000]")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.InitialBalanceKRW <= 0 {
		return fmt.Errorf("backtest.initial_balance_krw must be > 0")
	}
	if b.FeeRate < 0 || b.FeeRate > 0.05 {
		return fmt.Errorf("backtest.fee_rate must be in [0,0.05]")
	}
	if b.MaxConcurrentRuns < 1 || b.MaxConcurrentRuns > 8 {
		return fmt.Errorf("backtest.max_concurrent_runs must be in [1,8]")
	}
	if b.TrialParallel < 1 || b.TrialParallel > 16 {
		return fmt.Errorf("backtest.trial_parallel must be in [1,16]")
	}
	if b.Trials < 1 || b.Trials > 500 {
		return fmt.Errorf("backtest.trials must be in [1,500]")
	}
	return nil
}

func (r *RegistryConfig) validate() error {
	if strings.TrimSpace(r.Path) == "" {
		return fmt.Errorf("registry.path cannot be empty")
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 s/m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 's' && suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 1
}
