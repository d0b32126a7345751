package apihttp

import (
	"context"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"maru/internal/backtest"
	"maru/internal/config"
	"maru/internal/market"
	"maru/internal/store"
	"maru/internal/store/model"
)

// stubSource 提供合成行情，让回测接口可以端到端跑完。
type stubSource struct {
	all market.Candles
}

func newStubSource(n int) *stubSource {
	all := make(market.Candles, n)
	for i := range all {
		open := int64(1_600_000_000_000) + int64(i)*86_400_000
		price := 100 + 15*math.Sin(float64(i)/4)
		all[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + 86_399_999,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    10,
		}
	}
	return &stubSource{all: all}
}

func (s *stubSource) Candles(ctx context.Context, coin, interval string, count int) (market.Candles, error) {
	if count > len(s.all) {
		count = len(s.all)
	}
	return append(market.Candles(nil), s.all[len(s.all)-count:]...), nil
}

func (s *stubSource) CandlesBefore(ctx context.Context, coin, interval string, count int, to time.Time) (market.Candles, error) {
	cut := to.UnixMilli()
	idx := 0
	for idx < len(s.all) && s.all[idx].OpenTime < cut {
		idx++
	}
	lo := idx - count
	if lo < 0 {
		lo = 0
	}
	return append(market.Candles(nil), s.all[lo:idx]...), nil
}

func newBacktestRouter(t *testing.T) (*gin.Engine, store.Store) {
	t.Helper()
	st := newTestStore(t)
	h, err := backtest.NewHistory(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	svc, err := backtest.NewService(st, h, newStubSource(400), config.BacktestConfig{
		InitialBalanceKRW: 1_000_000,
		FeeRate:           0.0025,
		MaxConcurrentRuns: 2,
		TrialParallel:     2,
		Trials:            3,
		Seed:              42,
	})
	require.NoError(t, err)

	engine := gin.New()
	NewRouter(st, svc).Register(engine.Group("/api"))
	return engine, st
}

func seedAPIConfig(t *testing.T, st store.Store, kind, params string) *model.StrategyConfigModel {
	t.Helper()
	ctx := context.Background()
	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	cfg := &model.StrategyConfigModel{
		Name:       "api-" + kind,
		Coin:       "BTC",
		Kind:       kind,
		ParamsJSON: datatypes.JSON(params),
		Enabled:    true,
	}
	require.NoError(t, uow.Configs().Save(ctx, cfg))
	require.NoError(t, uow.Commit())
	return cfg
}

func TestBacktestRoutesRequireService(t *testing.T) {
	engine, _ := newStrategyRouter(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/backtest/runs"},
		{http.MethodGet, "/api/backtest/runs"},
		{http.MethodGet, "/api/backtest/runs/some-id"},
		{http.MethodPost, "/api/calibrations"},
		{http.MethodGet, "/api/calibrations"},
		{http.MethodGet, "/api/calibrations/some-id"},
		{http.MethodPost, "/api/calibrations/some-id/apply"},
	}
	for _, p := range paths {
		w := doJSON(t, engine, p.method, p.path, map[string]any{})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, "%s %s", p.method, p.path)
		assert.Contains(t, decodeBody(t, w)["error"], "回测服务未启用")
	}
}

func TestRunStartValidation(t *testing.T) {
	engine, _ := newBacktestRouter(t)

	// binding:"required" 挡掉缺 config_id 的请求。
	w := doJSON(t, engine, http.MethodPost, "/api/backtest/runs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, engine, http.MethodPost, "/api/backtest/runs", map[string]any{"config_id": 424242})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "不存在")
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	engine, st := newBacktestRouter(t)
	cfg := seedAPIConfig(t, st, "moving_average", `{"short_period":3,"long_period":5,"trade_amount_krw":20000}`)

	w := doJSON(t, engine, http.MethodPost, "/api/backtest/runs", map[string]any{
		"config_id":   cfg.ID,
		"window_days": 30,
		"interval":    "1d",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	run := decodeBody(t, w)["run"].(map[string]any)
	runID := run["id"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, float64(cfg.ID), run["config_id"])

	var detail map[string]any
	require.Eventually(t, func() bool {
		w := doJSON(t, engine, http.MethodGet, "/api/backtest/runs/"+runID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		detail = decodeBody(t, w)["run"].(map[string]any)
		return detail["status"] == model.RunStatusDone
	}, 10*time.Second, 25*time.Millisecond)

	assert.Equal(t, "BTC", detail["coin"])
	assert.Equal(t, 30.0, detail["window_days"])
	assert.Equal(t, 1_000_000.0, detail["initial_balance"])
	assert.NotNil(t, detail["stats"], "完成的任务应带统计明细")

	w = doJSON(t, engine, http.MethodGet, "/api/backtest/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runs := decodeBody(t, w)["runs"].([]any)
	require.NotEmpty(t, runs)
	// 列表视图不展开明细。
	_, hasStats := runs[0].(map[string]any)["stats"]
	assert.False(t, hasStats)

	w = doJSON(t, engine, http.MethodGet, "/api/backtest/runs/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCalibrationLifecycleOverHTTP(t *testing.T) {
	engine, st := newBacktestRouter(t)
	cfg := seedAPIConfig(t, st, "moving_average", `{"short_period":3,"long_period":5,"trade_amount_krw":20000}`)

	w := doJSON(t, engine, http.MethodPost, "/api/calibrations", map[string]any{
		"config_id":   cfg.ID,
		"trials":      3,
		"window_days": 60,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cal := decodeBody(t, w)["calibration"].(map[string]any)
	calID := cal["id"].(string)
	require.NotEmpty(t, calID)
	assert.Equal(t, 3.0, cal["trials"])

	var detail map[string]any
	require.Eventually(t, func() bool {
		w := doJSON(t, engine, http.MethodGet, "/api/calibrations/"+calID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		detail = decodeBody(t, w)["calibration"].(map[string]any)
		return detail["status"] == model.RunStatusDone
	}, 20*time.Second, 50*time.Millisecond)

	require.NotNil(t, detail["best_params"])
	candidates := detail["candidates"].([]any)
	assert.Len(t, candidates, 3)

	w = doJSON(t, engine, http.MethodPost, "/api/calibrations/"+calID+"/apply", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	applied := decodeBody(t, w)["strategy"].(map[string]any)
	assert.Equal(t, float64(cfg.ID), applied["id"])
	params := applied["params"].(map[string]any)
	assert.Contains(t, params, "short_period")
	// 原有执行面参数不被寻参结果冲掉。
	assert.Equal(t, 20000.0, params["trade_amount_krw"])

	// 寻参行记下应用时间。
	w = doJSON(t, engine, http.MethodGet, "/api/calibrations/"+calID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail = decodeBody(t, w)["calibration"].(map[string]any)
	assert.Greater(t, detail["applied_at"].(float64), 0.0)

	w = doJSON(t, engine, http.MethodGet, "/api/calibrations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decodeBody(t, w)["calibrations"].([]any))
}

func TestCalibrationApplyRequiresDone(t *testing.T) {
	engine, _ := newBacktestRouter(t)

	w := doJSON(t, engine, http.MethodPost, "/api/calibrations/no-such-id/apply", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "不存在")
}
