package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maru/internal/market"
)

func closesToCandles(closes ...float64) market.Candles {
	out := make(market.Candles, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i)*60_000 + 59_999,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func TestBuildUnknownKind(t *testing.T) {
	_, err := Build("martingale", Params{})
	assert.Error(t, err)
}

func TestBuildRejectsBadParams(t *testing.T) {
	_, err := Build(KindRSI, Params{"period": "abc"})
	assert.Error(t, err)

	_, err = Build(KindMovingAverage, Params{"short_period": -1})
	assert.Error(t, err)
}

func TestInsufficientHistoryIsSilent(t *testing.T) {
	short := closesToCandles(10, 10, 10)
	kinds := map[string]Params{
		KindMovingAverage: {},
		KindRSI:           {},
		KindBollinger:     {},
		KindMACD:          {},
		KindStochastic:    {},
		KindComposite: {
			"strategy_types": []any{
				map[string]any{"type": KindMovingAverage},
				map[string]any{"type": KindRSI},
			},
		},
	}
	for kind, params := range kinds {
		t.Run(kind, func(t *testing.T) {
			s, err := Build(kind, params)
			require.NoError(t, err)
			assert.False(t, s.ShouldBuy(short))
			assert.False(t, s.ShouldSell(short))
			assert.False(t, s.ShouldBuy(nil))
			assert.False(t, s.ShouldSell(nil))
		})
	}
}

func TestMovingAverageCross(t *testing.T) {
	s, err := Build(KindMovingAverage, Params{"short_period": 2, "long_period": 3})
	require.NoError(t, err)
	assert.Equal(t, 4, s.MinCandles())

	t.Run("golden cross buys", func(t *testing.T) {
		candles := closesToCandles(10, 9, 8, 12)
		assert.True(t, s.ShouldBuy(candles))
		assert.False(t, s.ShouldSell(candles))
	})

	t.Run("already above does not re-fire", func(t *testing.T) {
		candles := closesToCandles(8, 9, 10, 11)
		assert.False(t, s.ShouldBuy(candles))
	})

	t.Run("death cross sells", func(t *testing.T) {
		candles := closesToCandles(10, 11, 12, 6)
		assert.True(t, s.ShouldSell(candles))
		assert.False(t, s.ShouldBuy(candles))
	})
}

func TestRSILevels(t *testing.T) {
	t.Run("rsi 25 buys at oversold 30", func(t *testing.T) {
		// 三跌一涨，周期 4 的 RSI 正好是 25。
		s, err := Build(KindRSI, Params{"period": 4, "oversold": 30, "overbought": 70})
		require.NoError(t, err)
		candles := closesToCandles(14, 13, 12, 11, 12)
		assert.True(t, s.ShouldBuy(candles))
		assert.False(t, s.ShouldSell(candles))
	})

	t.Run("steady decline drives rsi to zero", func(t *testing.T) {
		s, err := Build(KindRSI, Params{"period": 2})
		require.NoError(t, err)
		candles := closesToCandles(10, 9, 8, 7)
		assert.True(t, s.ShouldBuy(candles))
		assert.False(t, s.ShouldSell(candles))
	})

	t.Run("steady rise sells", func(t *testing.T) {
		s, err := Build(KindRSI, Params{"period": 2})
		require.NoError(t, err)
		candles := closesToCandles(1, 2, 3, 4)
		assert.True(t, s.ShouldSell(candles))
		assert.False(t, s.ShouldBuy(candles))
	})
}

func TestBollingerTransitions(t *testing.T) {
	s, err := Build(KindBollinger, Params{"period": 3, "std_dev": 1.0})
	require.NoError(t, err)

	t.Run("bounce back above lower band buys", func(t *testing.T) {
		candles := closesToCandles(10, 10, 10, 4, 10)
		assert.True(t, s.ShouldBuy(candles))
		assert.False(t, s.ShouldSell(candles))
	})

	t.Run("fall back below upper band sells", func(t *testing.T) {
		candles := closesToCandles(10, 10, 10, 16, 10)
		assert.True(t, s.ShouldSell(candles))
		assert.False(t, s.ShouldBuy(candles))
	})

	t.Run("inside band is not a signal", func(t *testing.T) {
		candles := closesToCandles(10, 10, 10, 10)
		assert.False(t, s.ShouldBuy(candles))
		assert.False(t, s.ShouldSell(candles))
	})
}

func TestMACDCross(t *testing.T) {
	s, err := Build(KindMACD, Params{"fast_period": 2, "slow_period": 4, "signal_period": 2})
	require.NoError(t, err)
	assert.Equal(t, 6, s.MinCandles())

	t.Run("bullish cross buys", func(t *testing.T) {
		candles := closesToCandles(10, 9, 8, 7, 6, 5, 8)
		assert.True(t, s.ShouldBuy(candles))
		assert.False(t, s.ShouldSell(candles))
	})

	t.Run("bearish cross sells", func(t *testing.T) {
		candles := closesToCandles(10, 11, 12, 13, 14, 15, 12)
		assert.True(t, s.ShouldSell(candles))
		assert.False(t, s.ShouldBuy(candles))
	})
}

func stochCandles(rows [][3]float64) market.Candles {
	out := make(market.Candles, len(rows))
	for i, r := range rows {
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i)*60_000 + 59_999,
			Open:      r[2],
			High:      r[0],
			Low:       r[1],
			Close:     r[2],
			Volume:    1,
		}
	}
	return out
}

func TestStochasticCross(t *testing.T) {
	s, err := Build(KindStochastic, Params{
		"k_period": 2, "d_period": 2, "oversold": 20, "overbought": 80,
	})
	require.NoError(t, err)

	t.Run("bullish cross in oversold buys", func(t *testing.T) {
		candles := stochCandles([][3]float64{
			{10, 9, 9.5},
			{10, 5, 5.2},
			{10, 5, 5.1},
			{10, 5, 5.6},
		})
		assert.True(t, s.ShouldBuy(candles))
		assert.False(t, s.ShouldSell(candles))
	})

	t.Run("bearish cross in overbought sells", func(t *testing.T) {
		candles := stochCandles([][3]float64{
			{11, 10, 10.5},
			{15, 10, 14.8},
			{15, 10, 14.9},
			{15, 10, 14.4},
		})
		assert.True(t, s.ShouldSell(candles))
		assert.False(t, s.ShouldBuy(candles))
	})

	t.Run("flat window stays silent", func(t *testing.T) {
		candles := closesToCandles(10, 10, 10, 10)
		assert.False(t, s.ShouldBuy(candles))
		assert.False(t, s.ShouldSell(candles))
	})
}

func TestComposite(t *testing.T) {
	// 持续阴跌：RSI 子策略给买入票，均线子策略没有交叉不投票。
	decline := closesToCandles(10, 9, 8, 7)

	build := func(t *testing.T, minConfirmations int) Strategy {
		s, err := Build(KindComposite, Params{
			"min_confirmations": minConfirmations,
			"strategy_types": []any{
				map[string]any{"type": KindRSI, "params": map[string]any{"period": 2}},
				map[string]any{"type": KindMovingAverage, "params": map[string]any{"short_period": 2, "long_period": 3}},
			},
		})
		require.NoError(t, err)
		return s
	}

	t.Run("one vote below threshold", func(t *testing.T) {
		assert.False(t, build(t, 2).ShouldBuy(decline))
	})

	t.Run("one vote meets threshold one", func(t *testing.T) {
		assert.True(t, build(t, 1).ShouldBuy(decline))
	})

	t.Run("two agreeing children meet threshold two", func(t *testing.T) {
		s, err := Build(KindComposite, Params{
			"min_confirmations": 2,
			"strategy_types": []any{
				map[string]any{"type": KindRSI, "params": map[string]any{"period": 2, "oversold": 30}},
				map[string]any{"type": KindRSI, "params": map[string]any{"period": 2, "oversold": 50}},
			},
		})
		require.NoError(t, err)
		assert.True(t, s.ShouldBuy(decline))
		assert.False(t, s.ShouldSell(decline))
	})

	t.Run("min candles follows widest child", func(t *testing.T) {
		s := build(t, 2)
		// RSI(2) 要 3 根，MA(2,3) 要 4 根。
		assert.Equal(t, 4, s.MinCandles())
	})

	t.Run("unknown child kind fails", func(t *testing.T) {
		_, err := Build(KindComposite, Params{
			"strategy_types": []any{map[string]any{"type": "martingale"}},
		})
		assert.Error(t, err)
	})

	t.Run("nested composite fails", func(t *testing.T) {
		_, err := Build(KindComposite, Params{
			"strategy_types": []any{map[string]any{"type": KindComposite}},
		})
		assert.Error(t, err)
	})

	t.Run("missing children fails", func(t *testing.T) {
		_, err := Build(KindComposite, Params{"min_confirmations": 2})
		assert.Error(t, err)
	})
}

func TestValidateParams(t *testing.T) {
	t.Run("valid bag passes", func(t *testing.T) {
		err := ValidateParams(KindRSI, Params{
			"period": 14, "oversold": 30, "overbought": 70,
			"trade_amount_krw": 10000, "profit_target": 5.0,
		})
		assert.NoError(t, err)
	})

	t.Run("numeric strings are tolerated", func(t *testing.T) {
		err := ValidateParams(KindRSI, Params{"period": "14"})
		assert.NoError(t, err)
	})

	t.Run("typo key is rejected", func(t *testing.T) {
		err := ValidateParams(KindRSI, Params{"perid": 14})
		assert.Error(t, err)
	})

	t.Run("wrong type is rejected", func(t *testing.T) {
		err := ValidateParams(KindRSI, Params{"period": "fourteen"})
		assert.Error(t, err)
	})

	t.Run("unknown kind is rejected", func(t *testing.T) {
		err := ValidateParams("martingale", Params{})
		assert.Error(t, err)
	})

	t.Run("composite children are validated", func(t *testing.T) {
		err := ValidateParams(KindComposite, Params{
			"strategy_types": []any{
				map[string]any{"type": KindBollinger, "params": map[string]any{"std_dev": -1}},
			},
		})
		assert.Error(t, err)

		err = ValidateParams(KindComposite, Params{
			"min_confirmations": 2,
			"strategy_types": []any{
				map[string]any{"type": KindRSI, "params": map[string]any{"period": 14}},
				map[string]any{"type": KindMACD},
			},
		})
		assert.NoError(t, err)
	})
}
