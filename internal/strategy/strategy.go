// Package strategy 基于 K 线指标产出买卖信号。
//
// 所有策略都是纯函数式的：输入一段升序 K 线，输出布尔信号，
// 不触网也不落库，历史长度不足时返回 false 而不是报错。
package strategy

import (
	"fmt"

	"maru/internal/market"
)

// 策略种类，与配置存储里的 kind 字段一致。
const (
	KindMovingAverage = "moving_average"
	KindRSI           = "rsi"
	KindBollinger     = "bollinger"
	KindMACD          = "macd"
	KindStochastic    = "stochastic"
	KindComposite     = "composite"
)

// Strategy 对同一段 K 线分别回答该买与该卖。
type Strategy interface {
	Name() string
	// MinCandles 返回产生有效信号所需的最少 K 线数。
	MinCandles() int
	ShouldBuy(candles market.Candles) bool
	ShouldSell(candles market.Candles) bool
}

// Build 按种类构造策略实例。
// 未知种类或参数包不合法时报错，由调用方决定记录方式。
func Build(kind string, params Params) (Strategy, error) {
	switch kind {
	case KindMovingAverage:
		return newMovingAverage(params)
	case KindRSI:
		return newRSI(params)
	case KindBollinger:
		return newBollinger(params)
	case KindMACD:
		return newMACD(params)
	case KindStochastic:
		return newStochastic(params)
	case KindComposite:
		return newComposite(params)
	default:
		return nil, fmt.Errorf("未知的策略种类: %s", kind)
	}
}

// Kinds 返回全部受支持的策略种类。
func Kinds() []string {
	return []string{
		KindMovingAverage,
		KindRSI,
		KindBollinger,
		KindMACD,
		KindStochastic,
		KindComposite,
	}
}

func positivePeriod(name string, v int) error {
	if v <= 0 {
		return fmt.Errorf("参数 %s 必须为正整数，当前为 %d", name, v)
	}
	return nil
}
