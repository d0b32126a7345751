package config

import (
	"strings"
	"time"
)

// Config 是 maru 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Database DatabaseConfig `toml:"database"`
	Exchange ExchangeConfig `toml:"exchange"`
	Trading  TradingConfig  `toml:"trading"`
	Backtest BacktestConfig `toml:"backtest"`
	Registry RegistryConfig `toml:"registry"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type DatabaseConfig struct {
	Path      string `toml:"path"`
	CandleDir string `toml:"candle_dir"`
}

// ExchangeConfig 描述交易所 REST 接入方式，密钥通常放在 include 的单独文件里。
type ExchangeConfig struct {
	BaseURL                string  `toml:"base_url"`
	AccessKey              string  `toml:"access_key"`
	SecretKey              string  `toml:"secret_key"`
	TimeoutSeconds         int     `toml:"timeout_seconds"`
	RateLimitPerSec        float64 `toml:"rate_limit_per_sec"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
}

func (e ExchangeConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func (e ExchangeConfig) BreakerCooldown() time.Duration {
	return time.Duration(e.BreakerCooldownSeconds) * time.Second
}

func (e ExchangeConfig) HasCredentials() bool {
	return strings.TrimSpace(e.AccessKey) != "" && strings.TrimSpace(e.SecretKey) != ""
}

// TradingConfig 控制实盘执行循环。Enabled=false 时下单请求只落库不发交易所。
type TradingConfig struct {
	Enabled         bool   `toml:"enabled"`
	IntervalSeconds int    `toml:"interval_seconds"`
	CandleInterval  string `toml:"candle_interval"`
	CandleCount     int    `toml:"candle_count"`
}

func (t TradingConfig) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

type BacktestConfig struct {
	InitialBalanceKRW float64 `toml:"initial_balance_krw"`
	FeeRate           float64 `toml:"fee_rate"`
	MaxConcurrentRuns int     `toml:"max_concurrent_runs"`
	TrialParallel     int     `toml:"trial_parallel"`
	Trials            int     `toml:"trials"`
	Seed              int64   `toml:"seed"`
}

type RegistryConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
