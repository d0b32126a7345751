package market

import (
	"sort"
	"time"
)

// Candle 是一根 OHLCV K 线，时间戳为 unix 毫秒。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

func (c Candle) Time() time.Time {
	ts := c.CloseTime
	if ts == 0 {
		ts = c.OpenTime
	}
	return time.UnixMilli(ts)
}

type Candles []Candle

// SortByOpenTime 按开盘时间升序排列。
func (cs Candles) SortByOpenTime() {
	sort.Slice(cs, func(i, j int) bool { return cs[i].OpenTime < cs[j].OpenTime })
}

func (cs Candles) Closes() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

func (cs Candles) Highs() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.High
	}
	return out
}

func (cs Candles) Lows() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Low
	}
	return out
}

// TailDays 截取最近 days 天的 K 线。days <= 0 时返回全部。
func (cs Candles) TailDays(days int) Candles {
	if days <= 0 || len(cs) == 0 {
		return cs
	}
	last := cs[len(cs)-1]
	cutoff := last.Time().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	for i, c := range cs {
		ts := c.CloseTime
		if ts == 0 {
			ts = c.OpenTime
		}
		if ts >= cutoff {
			return cs[i:]
		}
	}
	return cs
}

func (cs Candles) Last() Candle {
	if len(cs) == 0 {
		return Candle{}
	}
	return cs[len(cs)-1]
}
