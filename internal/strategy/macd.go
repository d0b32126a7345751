package strategy

import (
	"maru/internal/analysis/indicator"
	"maru/internal/market"
)

// macdStrategy MACD 线与 signal 线的交叉策略。
type macdStrategy struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

func newMACD(params Params) (Strategy, error) {
	fastPeriod, err := params.Int("fast_period", 12)
	if err != nil {
		return nil, err
	}
	slowPeriod, err := params.Int("slow_period", 26)
	if err != nil {
		return nil, err
	}
	signalPeriod, err := params.Int("signal_period", 9)
	if err != nil {
		return nil, err
	}
	if err := positivePeriod("fast_period", fastPeriod); err != nil {
		return nil, err
	}
	if err := positivePeriod("slow_period", slowPeriod); err != nil {
		return nil, err
	}
	if err := positivePeriod("signal_period", signalPeriod); err != nil {
		return nil, err
	}
	return &macdStrategy{
		fastPeriod:   fastPeriod,
		slowPeriod:   slowPeriod,
		signalPeriod: signalPeriod,
	}, nil
}

func (s *macdStrategy) Name() string { return KindMACD }

// MinCandles 给慢线和 signal 线留够收敛长度。
func (s *macdStrategy) MinCandles() int { return s.slowPeriod + s.signalPeriod }

func (s *macdStrategy) lines(candles market.Candles) (macdLine, signalLine []float64, ok bool) {
	if len(candles) < s.MinCandles() {
		return nil, nil, false
	}
	macdLine, signalLine = indicator.Macd(candles.Closes(), s.fastPeriod, s.slowPeriod, s.signalPeriod)
	return macdLine, signalLine, true
}

func (s *macdStrategy) ShouldBuy(candles market.Candles) bool {
	macdLine, signalLine, ok := s.lines(candles)
	if !ok {
		return false
	}
	last := len(macdLine) - 1
	return macdLine[last-1] <= signalLine[last-1] && macdLine[last] > signalLine[last]
}

func (s *macdStrategy) ShouldSell(candles market.Candles) bool {
	macdLine, signalLine, ok := s.lines(candles)
	if !ok {
		return false
	}
	last := len(macdLine) - 1
	return macdLine[last-1] >= signalLine[last-1] && macdLine[last] < signalLine[last]
}
