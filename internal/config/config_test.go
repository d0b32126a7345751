package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":8700", cfg.App.HTTPAddr)
	assert.Equal(t, "data/maru.db", cfg.Database.Path)
	assert.Equal(t, "data/candles", cfg.Database.CandleDir)
	assert.Equal(t, "https://api.bithumb.com", cfg.Exchange.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Exchange.Timeout())
	assert.Equal(t, 30*time.Second, cfg.Exchange.BreakerCooldown())
	assert.False(t, cfg.Trading.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Trading.Interval())
	assert.Equal(t, "1m", cfg.Trading.CandleInterval)
	assert.Equal(t, 200, cfg.Trading.CandleCount)
	assert.Equal(t, 1_000_000.0, cfg.Backtest.InitialBalanceKRW)
	assert.Equal(t, 0.0025, cfg.Backtest.FeeRate)
	assert.Equal(t, int64(42), cfg.Backtest.Seed)
	assert.Equal(t, "configs/strategies.yaml", cfg.Registry.Path)
	assert.True(t, cfg.Registry.Watch)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	// registry.watch 显式写 false 时不能被默认值 true 顶回去。
	path := writeConfig(t, dir, "config.yaml", `
app:
  log_level: debug
trading:
  interval_seconds: 30
  candle_interval: 5m
  candle_count: 60
registry:
  path: seeds.yaml
  watch: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 30, cfg.Trading.IntervalSeconds)
	assert.Equal(t, "5m", cfg.Trading.CandleInterval)
	assert.Equal(t, 60, cfg.Trading.CandleCount)
	assert.Equal(t, "seeds.yaml", cfg.Registry.Path)
	assert.False(t, cfg.Registry.Watch)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "secrets.yaml", `
exchange:
  access_key: ak-test
  secret_key: sk-test
  timeout_seconds: 3
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - secrets.yaml
exchange:
  timeout_seconds: 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	// include 先合并，主文件后写入，同键以主文件为准。
	assert.Equal(t, "ak-test", cfg.Exchange.AccessKey)
	assert.Equal(t, "sk-test", cfg.Exchange.SecretKey)
	assert.Equal(t, 7, cfg.Exchange.TimeoutSeconds)
	assert.True(t, cfg.Exchange.HasCredentials())
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	pathA := filepath.Join(dir, "a.yaml")
	writeConfig(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(pathA)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle detected")
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()

	t.Run("empty path", func(t *testing.T) {
		_, err := Load("")
		require.EqualError(t, err, "config path cannot be empty")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("live trading without credentials", func(t *testing.T) {
		path := writeConfig(t, dir, "live.yaml", "trading:\n  enabled: true\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access_key")
	})

	t.Run("bad candle interval", func(t *testing.T) {
		path := writeConfig(t, dir, "badiv.yaml", "trading:\n  candle_interval: 7x\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "candle_interval")
	})

	t.Run("interval below floor", func(t *testing.T) {
		path := writeConfig(t, dir, "fast.yaml", "trading:\n  interval_seconds: 1\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "interval_seconds")
	})
}

func TestIsValidInterval(t *testing.T) {
	valid := []string{"30s", "1m", "15m", "1h", "4h", "1d", "1w"}
	for _, s := range valid {
		assert.True(t, IsValidInterval(s), s)
	}
	invalid := []string{"", "m", "5x", "m5", "1.5h", "-1m", "1M"}
	for _, s := range invalid {
		assert.False(t, IsValidInterval(s), s)
	}
}
