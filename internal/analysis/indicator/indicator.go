// Package indicator 提供策略共用的滚动序列指标。
//
// 约定：输入序列按时间升序；窗口未满的位置填 NaN。调用方对 NaN 做大小
// 比较自然得到 false，所以不需要额外的有效性判断。
package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Sma 简单移动平均，前 period-1 个位置为 NaN。
func Sma(values []float64, period int) []float64 {
	n := len(values)
	if period <= 0 || n < period {
		return allNaN(n)
	}
	return nanPrefix(talib.Sma(values, period), period-1)
}

// Ema 指数移动平均，以首值为种子递推，α=2/(period+1)。
// 从第 0 个位置起即有值，与 Sma 的 NaN 头部不同。
func Ema(values []float64, period int) []float64 {
	n := len(values)
	if n == 0 {
		return nil
	}
	if period <= 0 {
		return allNaN(n)
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, n)
	out[0] = values[0]
	for i := 1; i < n; i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// Rsi 相对强弱指数。涨跌幅用 period 窗口的简单均值，
// 首个差分在位置 1，所以从位置 period 起才有值。
// 窗口内没有任何下跌（含完全走平）时按 100 处理。
func Rsi(values []float64, period int) []float64 {
	n := len(values)
	out := allNaN(n)
	if period <= 0 || n < period+1 {
		return out
	}
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	var gainSum, lossSum float64
	for i := 1; i < n; i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i > period {
			gainSum -= gains[i-period]
			lossSum -= losses[i-period]
		}
		if i < period {
			continue
		}
		avgLoss := lossSum / float64(period)
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := (gainSum / float64(period)) / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// StdDev 滚动样本标准差（除 n-1），前 period-1 个位置为 NaN。
func StdDev(values []float64, period int) []float64 {
	n := len(values)
	out := allNaN(n)
	if period <= 1 || n < period {
		return out
	}
	for i := period - 1; i < n; i++ {
		window := values[i-period+1 : i+1]
		var mean float64
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		var ss float64
		for _, v := range window {
			d := v - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// Bollinger 返回布林带上中下轨，带宽为 width 倍滚动样本标准差。
func Bollinger(values []float64, period int, width float64) (upper, mid, lower []float64) {
	mid = Sma(values, period)
	sd := StdDev(values, period)
	n := len(values)
	upper = make([]float64, n)
	lower = make([]float64, n)
	for i := 0; i < n; i++ {
		upper[i] = mid[i] + width*sd[i]
		lower[i] = mid[i] - width*sd[i]
	}
	return upper, mid, lower
}

// Macd 返回 MACD 线（快慢 EMA 之差）与其 signal 周期 EMA。
func Macd(values []float64, fast, slow, signal int) (macdLine, signalLine []float64) {
	emaFast := Ema(values, fast)
	emaSlow := Ema(values, slow)
	macdLine = make([]float64, len(values))
	for i := range values {
		macdLine[i] = emaFast[i] - emaSlow[i]
	}
	signalLine = Ema(macdLine, signal)
	return macdLine, signalLine
}

// Stoch 返回随机指标 %K 与 %D。
// 窗口内最高价等于最低价时 %K 为 NaN，%D 的窗口里只要有 NaN 结果就是 NaN。
func Stoch(highs, lows, closes []float64, kPeriod, dPeriod int) (k, d []float64) {
	n := len(closes)
	k = allNaN(n)
	if kPeriod > 0 && n >= kPeriod {
		minLow := RollingMin(lows, kPeriod)
		maxHigh := RollingMax(highs, kPeriod)
		for i := kPeriod - 1; i < n; i++ {
			span := maxHigh[i] - minLow[i]
			if span == 0 {
				continue
			}
			k[i] = 100 * (closes[i] - minLow[i]) / span
		}
	}
	d = nanRollingMean(k, dPeriod)
	return k, d
}

// RollingMin 滚动窗口最小值，前 period-1 个位置为 NaN。
func RollingMin(values []float64, period int) []float64 {
	n := len(values)
	if period <= 0 || n < period {
		return allNaN(n)
	}
	if period == 1 {
		return append([]float64(nil), values...)
	}
	return nanPrefix(talib.Min(values, period), period-1)
}

// RollingMax 滚动窗口最大值，前 period-1 个位置为 NaN。
func RollingMax(values []float64, period int) []float64 {
	n := len(values)
	if period <= 0 || n < period {
		return allNaN(n)
	}
	if period == 1 {
		return append([]float64(nil), values...)
	}
	return nanPrefix(talib.Max(values, period), period-1)
}

// nanRollingMean 滚动均值，窗口含 NaN 时输出 NaN。
func nanRollingMean(values []float64, period int) []float64 {
	n := len(values)
	out := allNaN(n)
	if period <= 0 || n < period {
		return out
	}
	for i := period - 1; i < n; i++ {
		var sum float64
		valid := true
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(values[j]) {
				valid = false
				break
			}
			sum += values[j]
		}
		if valid {
			out[i] = sum / float64(period)
		}
	}
	return out
}

func nanPrefix(series []float64, upto int) []float64 {
	for i := 0; i < upto && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}

func allNaN(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
