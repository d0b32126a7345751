package bithumb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"maru/internal/pkg/symbol"
	"maru/internal/pkg/text"

	"github.com/tidwall/gjson"
)

const (
	// StatusOK 表示交易所接受了订单。
	StatusOK = "0000"
	// statusRejected 是拒单与调用异常的兜底状态码。
	statusRejected = "5100"
)

// Account 对应 /v1/accounts 返回的单个币种持仓。
type Account struct {
	Currency    string
	Available   float64
	Locked      float64
	AvgBuyPrice float64
}

// Total 返回可用与冻结之和。
func (a Account) Total() float64 {
	return a.Available + a.Locked
}

// OrderResult 是下单调用的标准化结果。
type OrderResult struct {
	Status  string
	OrderID string
	Message string
}

// Accepted 判断交易所是否接受了订单。
func (r *OrderResult) Accepted() bool {
	return r != nil && r.Status == StatusOK
}

// Balances 查询全部账户余额。
func (c *Client) Balances(ctx context.Context) ([]Account, error) {
	data, err := c.get(ctx, "/v1/accounts", nil, true)
	if err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("无法解析 bithumb accounts 响应")
	}
	out := make([]Account, 0, 8)
	parsed.ForEach(func(_, item gjson.Result) bool {
		currency := strings.ToUpper(strings.TrimSpace(item.Get("currency").String()))
		if currency == "" {
			return true
		}
		out = append(out, Account{
			Currency:    currency,
			Available:   item.Get("balance").Float(),
			Locked:      item.Get("locked").Float(),
			AvgBuyPrice: item.Get("avg_buy_price").Float(),
		})
		return true
	})
	return out, nil
}

// Balance 查询单个币种余额，账户里没有持仓时返回零值。
func (c *Client) Balance(ctx context.Context, coin string) (Account, error) {
	coin = symbol.NormalizeCoin(coin)
	if coin == "" {
		return Account{}, fmt.Errorf("coin 不能为空")
	}
	accounts, err := c.Balances(ctx)
	if err != nil {
		return Account{}, err
	}
	for _, acct := range accounts {
		if acct.Currency == coin {
			return acct, nil
		}
	}
	return Account{Currency: coin}, nil
}

// PlaceMarketBuy 按 krwAmount 韩元金额市价买入。
func (c *Client) PlaceMarketBuy(ctx context.Context, coin string, krwAmount float64) (*OrderResult, error) {
	coin = symbol.NormalizeCoin(coin)
	if coin == "" {
		return nil, fmt.Errorf("coin 不能为空")
	}
	if krwAmount <= 0 {
		return nil, fmt.Errorf("买入金额必须大于 0")
	}
	// 市价买单用 ord_type=price，price 字段是整数韩元金额。
	params := map[string]string{
		"market":   symbol.Market(coin),
		"side":     "bid",
		"ord_type": "price",
		"price":    strconv.FormatInt(int64(krwAmount), 10),
	}
	return c.placeOrder(ctx, params)
}

// PlaceMarketSell 按 amount 个币市价卖出。
func (c *Client) PlaceMarketSell(ctx context.Context, coin string, amount float64) (*OrderResult, error) {
	coin = symbol.NormalizeCoin(coin)
	if coin == "" {
		return nil, fmt.Errorf("coin 不能为空")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("卖出数量必须大于 0")
	}
	params := map[string]string{
		"market":   symbol.Market(coin),
		"side":     "ask",
		"ord_type": "market",
		"volume":   strconv.FormatFloat(amount, 'f', -1, 64),
	}
	return c.placeOrder(ctx, params)
}

// PlaceLimitBuy 以 price 韩元限价买入 amount 个币。
func (c *Client) PlaceLimitBuy(ctx context.Context, coin string, price, amount float64) (*OrderResult, error) {
	return c.placeLimit(ctx, coin, "bid", price, amount)
}

// PlaceLimitSell 以 price 韩元限价卖出 amount 个币。
func (c *Client) PlaceLimitSell(ctx context.Context, coin string, price, amount float64) (*OrderResult, error) {
	return c.placeLimit(ctx, coin, "ask", price, amount)
}

func (c *Client) placeLimit(ctx context.Context, coin, side string, price, amount float64) (*OrderResult, error) {
	coin = symbol.NormalizeCoin(coin)
	if coin == "" {
		return nil, fmt.Errorf("coin 不能为空")
	}
	if price <= 0 {
		return nil, fmt.Errorf("限价必须大于 0")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("下单数量必须大于 0")
	}
	// 限价单价格按整数韩元报价。
	params := map[string]string{
		"market":   symbol.Market(coin),
		"side":     side,
		"ord_type": "limit",
		"price":    strconv.FormatInt(int64(price), 10),
		"volume":   strconv.FormatFloat(amount, 'f', -1, 64),
	}
	return c.placeOrder(ctx, params)
}

// placeOrder 发送下单请求。签名哈希覆盖参数的 urlencode 形式，
// 请求体则是同一组参数的 JSON。
func (c *Client) placeOrder(ctx context.Context, params map[string]string) (*OrderResult, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	token, err := c.signToken(values)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("序列化下单请求失败: %w", err)
	}
	endpoint, err := c.resolveEndpoint("/v1/orders", nil)
	if err != nil {
		return nil, err
	}
	status, data, err := c.send(ctx, http.MethodPost, endpoint, body, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusOK || status == http.StatusCreated {
		return &OrderResult{Status: StatusOK, OrderID: gjson.GetBytes(data, "uuid").String()}, nil
	}
	msg := gjson.GetBytes(data, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(text.Truncate(string(data), 256))
	}
	return &OrderResult{Status: statusRejected, Message: msg}, nil
}
