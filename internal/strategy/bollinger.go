package strategy

import (
	"maru/internal/analysis/indicator"
	"maru/internal/market"
)

// bollinger 布林带回归策略。
// 只认穿回动作：上一根收在下轨之下、本根收回下轨之上才买，
// 单纯处在带内不是信号；卖出是上轨的对称动作。
type bollinger struct {
	period int
	width  float64
}

func newBollinger(params Params) (Strategy, error) {
	period, err := params.Int("period", 20)
	if err != nil {
		return nil, err
	}
	width, err := params.Float("std_dev", 2.0)
	if err != nil {
		return nil, err
	}
	if err := positivePeriod("period", period); err != nil {
		return nil, err
	}
	return &bollinger{period: period, width: width}, nil
}

func (s *bollinger) Name() string { return KindBollinger }

func (s *bollinger) MinCandles() int { return s.period + 1 }

func (s *bollinger) ShouldBuy(candles market.Candles) bool {
	if len(candles) < s.MinCandles() {
		return false
	}
	closes := candles.Closes()
	_, _, lower := indicator.Bollinger(closes, s.period, s.width)
	last := len(closes) - 1
	wasBelow := closes[last-1] < lower[last-1]
	backAbove := closes[last] >= lower[last]
	return wasBelow && backAbove
}

func (s *bollinger) ShouldSell(candles market.Candles) bool {
	if len(candles) < s.MinCandles() {
		return false
	}
	closes := candles.Closes()
	upper, _, _ := indicator.Bollinger(closes, s.period, s.width)
	last := len(closes) - 1
	wasAbove := closes[last-1] > upper[last-1]
	backBelow := closes[last] <= upper[last]
	return wasAbove && backBelow
}
