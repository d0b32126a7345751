package strategy

import (
	"maru/internal/analysis/indicator"
	"maru/internal/market"
)

// stochastic 随机指标策略：超卖区里 %K 上穿 %D 买入，超买区里下穿卖出。
// 两个条件必须同时成立，单独的区间或单独的交叉都不触发。
type stochastic struct {
	kPeriod    int
	dPeriod    int
	oversold   float64
	overbought float64
}

func newStochastic(params Params) (Strategy, error) {
	kPeriod, err := params.Int("k_period", 14)
	if err != nil {
		return nil, err
	}
	dPeriod, err := params.Int("d_period", 3)
	if err != nil {
		return nil, err
	}
	oversold, err := params.Float("oversold", 20)
	if err != nil {
		return nil, err
	}
	overbought, err := params.Float("overbought", 80)
	if err != nil {
		return nil, err
	}
	if err := positivePeriod("k_period", kPeriod); err != nil {
		return nil, err
	}
	if err := positivePeriod("d_period", dPeriod); err != nil {
		return nil, err
	}
	return &stochastic{
		kPeriod:    kPeriod,
		dPeriod:    dPeriod,
		oversold:   oversold,
		overbought: overbought,
	}, nil
}

func (s *stochastic) Name() string { return KindStochastic }

func (s *stochastic) MinCandles() int { return s.kPeriod + s.dPeriod }

// 窗口走平时 %K 是 NaN，所有比较自然落空，不会误触发。
func (s *stochastic) lines(candles market.Candles) (k, d []float64, ok bool) {
	if len(candles) < s.MinCandles() {
		return nil, nil, false
	}
	k, d = indicator.Stoch(candles.Highs(), candles.Lows(), candles.Closes(), s.kPeriod, s.dPeriod)
	return k, d, true
}

func (s *stochastic) ShouldBuy(candles market.Candles) bool {
	k, d, ok := s.lines(candles)
	if !ok {
		return false
	}
	last := len(k) - 1
	inOversold := k[last] < s.oversold
	bullishCross := k[last-1] <= d[last-1] && k[last] > d[last]
	return inOversold && bullishCross
}

func (s *stochastic) ShouldSell(candles market.Candles) bool {
	k, d, ok := s.lines(candles)
	if !ok {
		return false
	}
	last := len(k) - 1
	inOverbought := k[last] > s.overbought
	bearishCross := k[last-1] >= d[last-1] && k[last] < d[last]
	return inOverbought && bearishCross
}
