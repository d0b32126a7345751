package strategy

import (
	"maru/internal/analysis/indicator"
	"maru/internal/market"
)

// movingAverage 均线交叉策略：短均线上穿长均线买入（金叉），下穿卖出（死叉）。
type movingAverage struct {
	shortPeriod int
	longPeriod  int
}

func newMovingAverage(params Params) (Strategy, error) {
	shortPeriod, err := params.Int("short_period", 5)
	if err != nil {
		return nil, err
	}
	longPeriod, err := params.Int("long_period", 20)
	if err != nil {
		return nil, err
	}
	if err := positivePeriod("short_period", shortPeriod); err != nil {
		return nil, err
	}
	if err := positivePeriod("long_period", longPeriod); err != nil {
		return nil, err
	}
	return &movingAverage{shortPeriod: shortPeriod, longPeriod: longPeriod}, nil
}

func (s *movingAverage) Name() string { return KindMovingAverage }

// MinCandles 要求倒数第二根上长均线也有值，交叉才有前后可比。
func (s *movingAverage) MinCandles() int { return s.longPeriod + 1 }

func (s *movingAverage) lines(candles market.Candles) (shortMA, longMA []float64, ok bool) {
	if len(candles) < s.MinCandles() {
		return nil, nil, false
	}
	closes := candles.Closes()
	return indicator.Sma(closes, s.shortPeriod), indicator.Sma(closes, s.longPeriod), true
}

func (s *movingAverage) ShouldBuy(candles market.Candles) bool {
	shortMA, longMA, ok := s.lines(candles)
	if !ok {
		return false
	}
	last := len(shortMA) - 1
	return shortMA[last-1] <= longMA[last-1] && shortMA[last] > longMA[last]
}

func (s *movingAverage) ShouldSell(candles market.Candles) bool {
	shortMA, longMA, ok := s.lines(candles)
	if !ok {
		return false
	}
	last := len(shortMA) - 1
	return shortMA[last-1] >= longMA[last-1] && shortMA[last] < longMA[last]
}
