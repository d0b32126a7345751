package scheduler

import (
	"time"

	"maru/internal/market"
)

const DefaultCandleGrace = 10 * time.Second

// DropUnclosedCandle 去掉最后一根仍在进行中的 K 线。
// 交易所返回的最新一根往往尚未收盘，拿它算指标会抖动。
//
// K 线时间戳按 unix 毫秒处理。
func DropUnclosedCandle(candles []market.Candle, interval time.Duration) []market.Candle {
	return dropUnclosedCandleAt(candles, interval, time.Now().UTC(), DefaultCandleGrace)
}

func dropUnclosedCandleAt(candles []market.Candle, interval time.Duration, now time.Time, grace time.Duration) []market.Candle {
	if len(candles) == 0 || interval <= 0 {
		return candles
	}
	if grace < 0 {
		grace = 0
	}
	last := candles[len(candles)-1]
	if last.OpenTime <= 0 {
		return candles
	}
	closeTimeMs := last.OpenTime + interval.Milliseconds()
	cutoffMs := closeTimeMs + grace.Milliseconds()
	if now.UnixMilli() < cutoffMs {
		return candles[:len(candles)-1]
	}
	return candles
}
