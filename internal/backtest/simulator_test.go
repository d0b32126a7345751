package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maru/internal/market"
	"maru/internal/store/model"
)

// fnStrategy 用闭包脚本化买卖信号，窗口长度就是当前回放到第几根。
type fnStrategy struct {
	min  int
	buy  func(market.Candles) bool
	sell func(market.Candles) bool
}

func (s fnStrategy) Name() string    { return "scripted" }
func (s fnStrategy) MinCandles() int { return s.min }

func (s fnStrategy) ShouldBuy(cs market.Candles) bool {
	return s.buy != nil && s.buy(cs)
}

func (s fnStrategy) ShouldSell(cs market.Candles) bool {
	return s.sell != nil && s.sell(cs)
}

func atLen(ns ...int) func(market.Candles) bool {
	return func(cs market.Candles) bool {
		for _, n := range ns {
			if len(cs) == n {
				return true
			}
		}
		return false
	}
}

func dailySeries(closes ...float64) market.Candles {
	out := make(market.Candles, len(closes))
	for i, c := range closes {
		open := int64(1_600_000_000_000) + int64(i)*86_400_000
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + 86_399_999,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func TestReplayBuySellRoundTrip(t *testing.T) {
	candles := dailySeries(100, 100, 110, 121, 110, 100, 90, 99)
	res, err := Replay(Simulation{
		Strategy:       fnStrategy{min: 1, buy: atLen(2), sell: atLen(4)},
		Candles:        candles,
		InitialBalance: 1000,
		FeeRate:        0.001,
	})
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	buy, sell := res.Trades[0], res.Trades[1]

	assert.Equal(t, model.SideBuy, buy.Side)
	assert.Equal(t, candles[1].CloseTime, buy.Time)
	assert.InDelta(t, 100.0, buy.Price, 1e-9)
	assert.InDelta(t, 1000.0, buy.Total, 1e-9)
	assert.InDelta(t, 1.0, buy.Fee, 1e-9)
	assert.InDelta(t, 9.99, buy.Amount, 1e-9)

	assert.Equal(t, model.SideSell, sell.Side)
	assert.Equal(t, candles[3].CloseTime, sell.Time)
	assert.Equal(t, ReasonSignal, sell.Reason)
	assert.InDelta(t, 121.0, sell.Price, 1e-9)
	assert.InDelta(t, 100.0, sell.BuyPrice, 1e-9)
	assert.InDelta(t, 9.99, sell.Amount, 1e-9)
	assert.InDelta(t, 1208.79, sell.Total, 1e-9)
	assert.InDelta(t, 1.20879, sell.Fee, 1e-9)
	assert.InDelta(t, 207.58121, sell.Profit, 1e-9)
	assert.InDelta(t, 21.0, sell.ProfitPct, 1e-9)

	rep := res.Report
	assert.InDelta(t, 1000.0, rep.InitialBalance, 1e-9)
	assert.InDelta(t, 1207.58121, rep.FinalBalance, 1e-9)
	assert.InDelta(t, 207.58121, rep.TotalReturn, 1e-9)
	assert.InDelta(t, 20.758121, rep.TotalReturnPct, 1e-9)
	assert.Equal(t, 1, rep.TotalTrades)
	assert.Equal(t, 1, rep.WinningTrades)
	assert.Equal(t, 0, rep.LosingTrades)
	assert.InDelta(t, 100.0, rep.WinRate, 1e-9)
	assert.NotEqual(t, sharpeUndefined, rep.Sharpe)
	assert.Equal(t, candles[0].CloseTime, rep.StartTime)
	assert.Equal(t, candles[7].CloseTime, rep.EndTime)
	assert.False(t, rep.Pruned)

	// 净值逐根记录，信号处理之前就入列。
	require.Len(t, res.Equity, len(candles))
	assert.InDelta(t, 1000.0, res.Equity[1].Equity, 1e-9)
	assert.InDelta(t, 1098.9, res.Equity[2].Equity, 1e-9)
	assert.InDelta(t, 1208.79, res.Equity[3].Equity, 1e-9)
	assert.InDelta(t, 1207.58121, res.Equity[7].Equity, 1e-9)

	// 卖出后回落只差一笔手续费，回撤正好是费率。
	assert.InDelta(t, 0.1, rep.MaxDrawdownPct, 1e-9)
}

func TestReplayProfitTargetBeatsSignal(t *testing.T) {
	candles := dailySeries(100, 112)
	res, err := Replay(Simulation{
		Strategy:     fnStrategy{min: 1, buy: atLen(1), sell: atLen(2)},
		Candles:      candles,
		ProfitTarget: 10,
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, ReasonProfitTarget, res.Trades[1].Reason)
	assert.InDelta(t, 12.0, res.Trades[1].ProfitPct, 1e-9)
}

func TestReplayStopLossExit(t *testing.T) {
	candles := dailySeries(100, 97, 94)
	res, err := Replay(Simulation{
		Strategy: fnStrategy{min: 1, buy: atLen(1)},
		Candles:  candles,
		StopLoss: 5,
	})
	require.NoError(t, err)

	// -3% 还没到阈值，-6% 才触发。
	require.Len(t, res.Trades, 2)
	sell := res.Trades[1]
	assert.Equal(t, ReasonStopLoss, sell.Reason)
	assert.Equal(t, candles[2].CloseTime, sell.Time)
	assert.InDelta(t, -6.0, sell.ProfitPct, 1e-9)
	assert.Negative(t, sell.Profit)
	assert.Equal(t, 1, res.Report.LosingTrades)
	assert.InDelta(t, 0.0, res.Report.WinRate, 1e-9)
}

func TestReplayKeepsOpenPositionAtEnd(t *testing.T) {
	candles := dailySeries(100, 110, 120)
	res, err := Replay(Simulation{
		Strategy:       fnStrategy{min: 1, buy: atLen(1)},
		Candles:        candles,
		InitialBalance: 1000,
		FeeRate:        0.001,
	})
	require.NoError(t, err)

	// 未平仓头寸不补合成卖单，按最后收盘价折算进终值。
	require.Len(t, res.Trades, 1)
	assert.Equal(t, model.SideBuy, res.Trades[0].Side)
	assert.Equal(t, 0, res.Report.TotalTrades)
	assert.InDelta(t, 0.0, res.Report.WinRate, 1e-9)
	assert.InDelta(t, 9.99*120, res.Report.FinalBalance, 1e-9)
}

func TestReplaySkipsWarmup(t *testing.T) {
	candles := dailySeries(100, 100, 100, 100, 100, 100)
	res, err := Replay(Simulation{
		Strategy: fnStrategy{
			min: 5,
			buy: func(market.Candles) bool { return true },
		},
		Candles: candles,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)
	assert.Equal(t, candles[4].CloseTime, res.Trades[0].Time)
}

func TestReplayDefaults(t *testing.T) {
	res, err := Replay(Simulation{
		Strategy: fnStrategy{min: 1},
		Candles:  dailySeries(100, 100, 100),
	})
	require.NoError(t, err)
	assert.InDelta(t, 1_000_000.0, res.Report.InitialBalance, 1e-9)
	assert.InDelta(t, 1_000_000.0, res.Report.FinalBalance, 1e-9)
	assert.Equal(t, sharpeUndefined, res.Report.Sharpe)
}

func TestReplayRejectsBadInput(t *testing.T) {
	_, err := Replay(Simulation{Candles: dailySeries(100)})
	assert.Error(t, err)

	_, err = Replay(Simulation{Strategy: fnStrategy{min: 1}})
	assert.Error(t, err)
}

func TestReplayObserverCheckpoints(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	candles := dailySeries(closes...)

	steps := map[int]float64{}
	res, err := Replay(Simulation{
		Strategy: fnStrategy{min: 1},
		Candles:  candles,
		Observer: func(step int, ratio float64) bool {
			steps[step] = ratio
			return true
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Report.Pruned)

	// 20 根、10 个检查点意味着步长 2，最后一根不再回调。
	require.Len(t, steps, 9)
	for step := 1; step <= 9; step++ {
		assert.InDelta(t, 1.0, steps[step], 1e-9)
	}
}

func TestReplayObserverPrunes(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	res, err := Replay(Simulation{
		Strategy: fnStrategy{min: 1},
		Candles:  dailySeries(closes...),
		Observer: func(step int, ratio float64) bool { return step < 3 },
	})
	require.NoError(t, err)
	assert.True(t, res.Report.Pruned)
	assert.Len(t, res.Equity, 6)
}

func TestMaxDrawdownPct(t *testing.T) {
	assert.InDelta(t, 100.0/3, maxDrawdownPct([]float64{100, 120, 90, 110, 80}), 1e-9)
	assert.InDelta(t, 0.0, maxDrawdownPct([]float64{50, 60, 70}), 1e-9)
	assert.InDelta(t, 0.0, maxDrawdownPct(nil), 1e-9)
}

func TestSharpeRatio(t *testing.T) {
	// 收益率 +10% -10% +10%，样本标准差口径。
	assert.InDelta(t, 4.5825756950, sharpeRatio([]float64{100, 110, 99, 108.9}), 1e-6)

	assert.Equal(t, sharpeUndefined, sharpeRatio([]float64{100, 101}))
	assert.Equal(t, sharpeUndefined, sharpeRatio([]float64{100, 100, 100, 100}))
	assert.Equal(t, sharpeUndefined, sharpeRatio([]float64{0, 0, 100, 110}))
}
