package bithumb

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"maru/internal/market"
	"maru/internal/pkg/symbol"
	"maru/internal/scheduler"

	"github.com/tidwall/gjson"
)

const maxCandleCount = 200

// CurrentPrice 查询指定币种的最新成交价。
func (c *Client) CurrentPrice(ctx context.Context, coin string) (float64, error) {
	coin = symbol.NormalizeCoin(coin)
	if coin == "" {
		return 0, fmt.Errorf("coin 不能为空")
	}
	query := url.Values{}
	query.Set("markets", symbol.Market(coin))
	data, err := c.get(ctx, "/v1/ticker", query, false)
	if err != nil {
		return 0, err
	}
	price := gjson.GetBytes(data, "0.trade_price").Float()
	if price <= 0 {
		return 0, fmt.Errorf("bithumb 未返回 %s 价格", coin)
	}
	return price, nil
}

// Candles 拉取最近的 K 线。接口按新到旧返回，这里翻转为升序。
func (c *Client) Candles(ctx context.Context, coin, interval string, count int) (market.Candles, error) {
	return c.fetchCandles(ctx, coin, interval, count, time.Time{})
}

// CandlesBefore 拉取 to 之前的 K 线，用于按游标回补历史。
func (c *Client) CandlesBefore(ctx context.Context, coin, interval string, count int, to time.Time) (market.Candles, error) {
	return c.fetchCandles(ctx, coin, interval, count, to)
}

func (c *Client) fetchCandles(ctx context.Context, coin, interval string, count int, to time.Time) (market.Candles, error) {
	coin = symbol.NormalizeCoin(coin)
	if coin == "" {
		return nil, fmt.Errorf("coin 不能为空")
	}
	if count <= 0 {
		count = 100
	}
	if count > maxCandleCount {
		count = maxCandleCount
	}
	path, err := candlePath(interval)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("market", symbol.Market(coin))
	query.Set("count", strconv.Itoa(count))
	if !to.IsZero() {
		query.Set("to", to.UTC().Format("2006-01-02T15:04:05"))
	}
	data, err := c.get(ctx, path, query, false)
	if err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("无法解析 bithumb K 线响应")
	}
	step := int64(0)
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		step = dur.Milliseconds()
	}
	out := make(market.Candles, 0, count)
	parsed.ForEach(func(_, item gjson.Result) bool {
		openTime := parseCandleTime(item.Get("candle_date_time_utc").String())
		if openTime == 0 {
			return true
		}
		candle := market.Candle{
			OpenTime: openTime,
			Open:     item.Get("opening_price").Float(),
			High:     item.Get("high_price").Float(),
			Low:      item.Get("low_price").Float(),
			Close:    item.Get("trade_price").Float(),
			Volume:   item.Get("candle_acc_trade_volume").Float(),
		}
		if step > 0 {
			candle.CloseTime = openTime + step - 1
		}
		out = append(out, candle)
		return true
	})
	out.SortByOpenTime()
	return out, nil
}

// candlePath 将周期映射到 API 2.0 的 K 线端点。
func candlePath(interval string) (string, error) {
	iv := strings.ToLower(strings.TrimSpace(interval))
	switch iv {
	case "1d":
		return "/v1/candles/days", nil
	case "1w":
		return "/v1/candles/weeks", nil
	}
	dur, ok := scheduler.ParseIntervalDuration(iv)
	if !ok {
		return "", fmt.Errorf("不支持的 K 线周期: %s", interval)
	}
	minutes := int(dur / time.Minute)
	switch minutes {
	case 1, 3, 5, 10, 15, 30, 60, 240:
		return fmt.Sprintf("/v1/candles/minutes/%d", minutes), nil
	default:
		return "", fmt.Errorf("不支持的 K 线周期: %s", interval)
	}
}

func parseCandleTime(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
