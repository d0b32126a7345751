package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"maru/internal/backtest"
	"maru/internal/config"
	"maru/internal/gateway/bithumb"
	"maru/internal/market"
	"maru/internal/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct{}

func (stubGateway) HasCredentials() bool { return false }

func (stubGateway) CurrentPrice(ctx context.Context, coin string) (float64, error) {
	return 100_000, nil
}

func (stubGateway) Candles(ctx context.Context, coin, interval string, count int) (market.Candles, error) {
	return nil, nil
}

func (stubGateway) CandlesBefore(ctx context.Context, coin, interval string, count int, to time.Time) (market.Candles, error) {
	return nil, nil
}

func (stubGateway) Balance(ctx context.Context, coin string) (bithumb.Account, error) {
	return bithumb.Account{Currency: coin}, nil
}

func (stubGateway) PlaceMarketBuy(ctx context.Context, coin string, krwAmount float64) (*bithumb.OrderResult, error) {
	return &bithumb.OrderResult{Status: bithumb.StatusOK, OrderID: "stub-buy"}, nil
}

func (stubGateway) PlaceMarketSell(ctx context.Context, coin string, amount float64) (*bithumb.OrderResult, error) {
	return &bithumb.OrderResult{Status: bithumb.StatusOK, OrderID: "stub-sell"}, nil
}

func (stubGateway) PlaceLimitBuy(ctx context.Context, coin string, price, amount float64) (*bithumb.OrderResult, error) {
	return &bithumb.OrderResult{Status: bithumb.StatusOK, OrderID: "stub-limit-buy"}, nil
}

func (stubGateway) PlaceLimitSell(ctx context.Context, coin string, price, amount float64) (*bithumb.OrderResult, error) {
	return &bithumb.OrderResult{Status: bithumb.StatusOK, OrderID: "stub-limit-sell"}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		App: config.AppConfig{
			Env:      "test",
			LogLevel: "error",
			HTTPAddr: "127.0.0.1:0",
		},
		Database: config.DatabaseConfig{
			Path:      filepath.Join(dir, "maru.db"),
			CandleDir: filepath.Join(dir, "candles"),
		},
		Exchange: config.ExchangeConfig{BaseURL: "https://api.bithumb.com"},
		Trading: config.TradingConfig{
			IntervalSeconds: 60,
			CandleInterval:  "1m",
			CandleCount:     50,
		},
		Backtest: config.BacktestConfig{
			InitialBalanceKRW: 1_000_000,
			FeeRate:           0.0025,
			MaxConcurrentRuns: 1,
			TrialParallel:     1,
			Trials:            3,
			Seed:              7,
		},
	}
}

func TestNewAppRequiresConfig(t *testing.T) {
	_, err := NewApp(nil)
	require.EqualError(t, err, "nil config")

	_, err = NewAppBuilder(nil).Build(context.Background())
	require.EqualError(t, err, "nil config")
}

func TestNewAppBuildsFromConfig(t *testing.T) {
	// 不注入任何覆盖项，走默认装配（真实 sqlite、真实 bithumb 客户端，构造期不发请求）。
	a, err := NewApp(testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.store)
	assert.NotNil(t, a.history)
	assert.NotNil(t, a.gateway)
	assert.NotNil(t, a.trader)
	assert.NotNil(t, a.backtest)
	assert.NotNil(t, a.http)
	assert.Nil(t, a.registry)
	assert.Same(t, a.trader, a.Trader())
}

func TestBuildWithOverrides(t *testing.T) {
	cfg := testConfig(t)
	st, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "override.db"))
	require.NoError(t, err)
	h, err := backtest.NewHistory(t.TempDir())
	require.NoError(t, err)

	clockCalls := 0
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	a, err := NewAppBuilder(cfg,
		WithStore(st),
		WithHistory(h),
		WithGateway(stubGateway{}),
		WithClock(func() time.Time {
			clockCalls++
			return base.Add(time.Duration(clockCalls) * time.Second)
		}),
	).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	assert.Same(t, st, a.store.(*sqlite.SqliteStore))
	assert.IsType(t, stubGateway{}, a.gateway)
	assert.GreaterOrEqual(t, clockCalls, 2)
}

func TestBuildSeedsRegistry(t *testing.T) {
	cfg := testConfig(t)
	seedPath := filepath.Join(t.TempDir(), "strategies.yaml")
	seedYAML := `strategies:
  - name: seed-ma-btc
    coin: BTC
    kind: moving_average
    params:
      short_period: 5
      long_period: 20
    trade_amount_krw: 10000
  - name: seed-rsi-eth
    coin: ETH
    kind: rsi
    params:
      period: 14
    trade_amount_krw: 10000
`
	require.NoError(t, os.WriteFile(seedPath, []byte(seedYAML), 0o644))
	cfg.Registry = config.RegistryConfig{Path: seedPath, Watch: false}

	a, err := NewAppBuilder(cfg, WithGateway(stubGateway{})).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.registry)

	ctx := context.Background()
	uow, err := a.store.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	configs, err := uow.Configs().ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	for _, c := range configs {
		// 种子导入的配置默认停用，由运营者确认后再启用。
		assert.False(t, c.Enabled)
	}
	assert.Equal(t, "seed-ma-btc", configs[0].Name)
	assert.Equal(t, "BTC", configs[0].Coin)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	st, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	h, err := backtest.NewHistory(t.TempDir())
	require.NoError(t, err)

	a, err := NewAppBuilder(cfg, WithStore(st), WithHistory(h), WithGateway(stubGateway{})).Build(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("应用未随 ctx 取消退出")
	}
}

func TestRunRejectsUninitializedApp(t *testing.T) {
	var nilApp *App
	require.EqualError(t, nilApp.Run(context.Background()), "app not initialized")
	require.EqualError(t, (&App{}).Run(context.Background()), "app not initialized")
}
