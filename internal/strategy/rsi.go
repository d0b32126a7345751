package strategy

import (
	"math"

	"maru/internal/analysis/indicator"
	"maru/internal/market"
)

// rsiStrategy 超卖买入、超买卖出。
// 判断的是当前水平而不是穿越，超卖区间内会连续给出买入信号。
type rsiStrategy struct {
	period     int
	oversold   float64
	overbought float64
}

func newRSI(params Params) (Strategy, error) {
	period, err := params.Int("period", 14)
	if err != nil {
		return nil, err
	}
	oversold, err := params.Float("oversold", 30)
	if err != nil {
		return nil, err
	}
	overbought, err := params.Float("overbought", 70)
	if err != nil {
		return nil, err
	}
	if err := positivePeriod("period", period); err != nil {
		return nil, err
	}
	return &rsiStrategy{period: period, oversold: oversold, overbought: overbought}, nil
}

func (s *rsiStrategy) Name() string { return KindRSI }

// MinCandles 首个差分落在第 1 根上，所以需要 period+1 根。
func (s *rsiStrategy) MinCandles() int { return s.period + 1 }

func (s *rsiStrategy) latest(candles market.Candles) (float64, bool) {
	if len(candles) < s.MinCandles() {
		return 0, false
	}
	series := indicator.Rsi(candles.Closes(), s.period)
	v := series[len(series)-1]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func (s *rsiStrategy) ShouldBuy(candles market.Candles) bool {
	v, ok := s.latest(candles)
	return ok && v < s.oversold
}

func (s *rsiStrategy) ShouldSell(candles market.Candles) bool {
	v, ok := s.latest(candles)
	return ok && v > s.overbought
}
