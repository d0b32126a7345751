package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"maru/internal/store"
	"maru/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	st, err := NewSqliteStore(filepath.Join(t.TempDir(), "store_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func begin(t *testing.T, st *SqliteStore) store.UnitOfWork {
	t.Helper()
	uow, err := st.Begin(context.Background())
	require.NoError(t, err)
	return uow
}

func TestNewSqliteStoreRequiresPath(t *testing.T) {
	_, err := NewSqliteStore("  ")
	require.EqualError(t, err, "database path cannot be empty")
}

func TestConfigRepoRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	uow := begin(t, st)
	defer uow.Rollback()

	cfg := &model.StrategyConfigModel{
		Name:       "ma-btc",
		Coin:       "BTC",
		Kind:       "moving_average",
		ParamsJSON: datatypes.JSON(`{"short_period":5,"long_period":20}`),
		Enabled:    true,
	}
	require.NoError(t, uow.Configs().Save(ctx, cfg))
	require.NotZero(t, cfg.ID)
	assert.NotZero(t, cfg.CreatedAtUnix)
	assert.NotZero(t, cfg.UpdatedAtUnix)

	byID, err := uow.Configs().FindByID(ctx, cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "ma-btc", byID.Name)

	byName, err := uow.Configs().FindByName(ctx, "ma-btc")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, cfg.ID, byName.ID)

	// 未命中返回 (nil, nil) 而不是错误。
	missing, err := uow.Configs().FindByID(ctx, 424242)
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Save 按名字 upsert：同名再存不会多出一行。
	again := &model.StrategyConfigModel{
		Name:       "ma-btc",
		Coin:       "BTC",
		Kind:       "rsi",
		ParamsJSON: datatypes.JSON(`{"period":14}`),
	}
	require.NoError(t, uow.Configs().Save(ctx, again))

	all, err := uow.Configs().ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "rsi", all[0].Kind)
	require.NoError(t, uow.Commit())
}

func TestConfigRepoEnableAndHighestPrice(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	uow := begin(t, st)
	defer uow.Rollback()

	cfg := &model.StrategyConfigModel{Name: "boll-xrp", Coin: "XRP", Kind: "bollinger"}
	require.NoError(t, uow.Configs().Save(ctx, cfg))

	enabled, err := uow.Configs().ListEnabled(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	require.NoError(t, uow.Configs().SetEnabled(ctx, cfg.ID, true))
	enabled, err = uow.Configs().ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)

	require.NoError(t, uow.Configs().UpdateHighestPrice(ctx, cfg.ID, 100))
	require.NoError(t, uow.Configs().UpdateHighestPrice(ctx, cfg.ID, 90))
	require.NoError(t, uow.Configs().UpdateHighestPrice(ctx, cfg.ID, 120))

	got, err := uow.Configs().FindByID(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 120.0, got.HighestPrice)

	require.NoError(t, uow.Configs().Delete(ctx, cfg.ID))
	gone, err := uow.Configs().FindByID(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	require.NoError(t, uow.Commit())
}

func TestOrderRepoSumCompletedBuyTotal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	uow := begin(t, st)
	defer uow.Rollback()

	orders := []model.OrderModel{
		{ConfigID: 1, Coin: "BTC", Side: model.SideBuy, Total: 10000, Status: model.OrderStatusCompleted},
		{ConfigID: 1, Coin: "BTC", Side: model.SideBuy, Total: 5500, Status: model.OrderStatusCompleted},
		{ConfigID: 1, Coin: "BTC", Side: model.SideBuy, Total: 7000, Status: model.OrderStatusPending},
		{ConfigID: 1, Coin: "BTC", Side: model.SideSell, Total: 3000, Status: model.OrderStatusCompleted},
		{ConfigID: 2, Coin: "ETH", Side: model.SideBuy, Total: 9999, Status: model.OrderStatusCompleted},
	}
	for i := range orders {
		require.NoError(t, uow.Orders().Save(ctx, &orders[i]))
	}

	total, err := uow.Orders().SumCompletedBuyTotal(ctx, 1)
	require.NoError(t, err)
	// 只统计已成交买单，PENDING 与卖单不计入。
	assert.Equal(t, 15500.0, total)

	none, err := uow.Orders().SumCompletedBuyTotal(ctx, 99)
	require.NoError(t, err)
	assert.Zero(t, none)
	require.NoError(t, uow.Commit())
}

func TestOrderRepoListNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	uow := begin(t, st)
	defer uow.Rollback()

	for i, ts := range []int64{100, 200, 300} {
		o := &model.OrderModel{ConfigID: int64(i%2 + 1), Coin: "BTC", Side: model.SideBuy, CreatedAtUnix: ts}
		require.NoError(t, uow.Orders().Save(ctx, o))
	}

	recent, err := uow.Orders().ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(300), recent[0].CreatedAtUnix)
	assert.Equal(t, int64(200), recent[1].CreatedAtUnix)

	byConfig, err := uow.Orders().ListByConfig(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, byConfig, 2)
	for _, o := range byConfig {
		assert.Equal(t, int64(1), o.ConfigID)
	}
	require.NoError(t, uow.Commit())
}

func TestBalanceRepoUpsertByCoin(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	uow := begin(t, st)
	defer uow.Rollback()

	require.NoError(t, uow.Balances().Upsert(ctx, &model.BalanceModel{
		Coin: "BTC", Total: 1, Available: 1, AvgBuyPrice: 50_000_000,
	}))
	require.NoError(t, uow.Balances().Upsert(ctx, &model.BalanceModel{
		Coin: "BTC", Total: 1.5, Available: 1.5, AvgBuyPrice: 52_000_000,
	}))

	all, err := uow.Balances().ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1.5, all[0].Total)
	assert.Equal(t, 52_000_000.0, all[0].AvgBuyPrice)
	assert.NotZero(t, all[0].UpdatedAtUnix)

	missing, err := uow.Balances().FindByCoin(ctx, "ETH")
	require.NoError(t, err)
	assert.Nil(t, missing)
	require.NoError(t, uow.Commit())
}

func TestBacktestRunRepoStatusFlow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	uow := begin(t, st)
	defer uow.Rollback()

	run := &model.BacktestRunModel{
		ID: "run-abc", ConfigID: 1, Coin: "BTC", Kind: "moving_average",
		Interval: "1d", WindowDays: 30, InitialBalance: 1_000_000,
		Status: model.RunStatusQueued,
	}
	require.NoError(t, uow.BacktestRuns().Insert(ctx, run))
	require.NoError(t, uow.BacktestRuns().SetStatus(ctx, "run-abc", model.RunStatusRunning, ""))

	got, err := uow.BacktestRuns().FindByID(ctx, "run-abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.RunStatusRunning, got.Status)

	got.Status = model.RunStatusDone
	got.FinalBalance = 1_100_000
	got.ReturnPct = 10
	require.NoError(t, uow.BacktestRuns().Update(ctx, got))

	runs, err := uow.BacktestRuns().ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1_100_000.0, runs[0].FinalBalance)
	require.NoError(t, uow.Commit())
}

func TestUnitOfWorkRollbackDiscardsWrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	uow := begin(t, st)
	require.NoError(t, uow.Configs().Save(ctx, &model.StrategyConfigModel{Name: "throwaway", Coin: "BTC", Kind: "rsi"}))
	require.NoError(t, uow.Rollback())

	check := begin(t, st)
	defer check.Rollback()
	got, err := check.Configs().FindByName(ctx, "throwaway")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, check.Commit())
}
