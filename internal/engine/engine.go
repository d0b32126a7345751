// Package engine 把一次交易意图变成恰好一条订单记录。
//
// 无论成败，每次调用都落一行订单，这是审计口径；
// 成交后在同一事务里追加成交记录并更新本地持仓。
package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"maru/internal/config"
	"maru/internal/gateway/bithumb"
	"maru/internal/logger"
	"maru/internal/pkg/symbol"
	"maru/internal/store"
	"maru/internal/store/model"
)

// minOrderKRW 比交易所的 5000 韩元下限高一档，贴线单容易被拒。
const minOrderKRW = 5500

// scaleBuffer 是补足最小下单额时的放大系数，只向上调，从不缩单。
const scaleBuffer = 1.1

// feeRate 成交记录里的估算手续费率。
const feeRate = 0.0005

// 金额换算走十进制，5500×1.10/100 这类结果要正好落在 60.5 上。
func divide(a, b float64) float64 {
	return decimal.NewFromFloat(a).Div(decimal.NewFromFloat(b)).InexactFloat64()
}

func scaledMinAmount(price float64) float64 {
	return decimal.NewFromInt(minOrderKRW).
		Mul(decimal.NewFromFloat(scaleBuffer)).
		Div(decimal.NewFromFloat(price)).
		InexactFloat64()
}

// Gateway 是引擎依赖的最小交易所能力。
type Gateway interface {
	CurrentPrice(ctx context.Context, coin string) (float64, error)
	PlaceMarketBuy(ctx context.Context, coin string, krwAmount float64) (*bithumb.OrderResult, error)
	PlaceMarketSell(ctx context.Context, coin string, amount float64) (*bithumb.OrderResult, error)
	PlaceLimitBuy(ctx context.Context, coin string, price, amount float64) (*bithumb.OrderResult, error)
	PlaceLimitSell(ctx context.Context, coin string, price, amount float64) (*bithumb.OrderResult, error)
}

// Request 是一次下单意图。买入以 KRWAmount 计量，卖出以 Amount 计量，
// Price 为 0 时按当前市价执行。
type Request struct {
	Coin      string
	Amount    float64
	KRWAmount float64
	Price     float64
	ConfigID  int64
}

// Engine 订单执行引擎。
type Engine struct {
	store   store.Store
	gateway Gateway
	enabled bool
}

func New(st store.Store, gw Gateway, cfg config.TradingConfig) *Engine {
	return &Engine{store: st, gateway: gw, enabled: cfg.Enabled}
}

// ExecuteBuy 执行买入意图，返回落库后的订单。
// 返回 error 仅代表存储层失败，交易所层面的失败体现在订单状态里。
func (e *Engine) ExecuteBuy(ctx context.Context, req Request) (*model.OrderModel, error) {
	return e.execute(ctx, model.SideBuy, req)
}

// ExecuteSell 执行卖出意图。
func (e *Engine) ExecuteSell(ctx context.Context, req Request) (*model.OrderModel, error) {
	return e.execute(ctx, model.SideSell, req)
}

func (e *Engine) execute(ctx context.Context, side string, req Request) (*model.OrderModel, error) {
	coin := symbol.NormalizeCoin(req.Coin)
	if coin == "" {
		return nil, fmt.Errorf("coin 不能为空")
	}
	buy := side == model.SideBuy
	if buy && req.KRWAmount <= 0 {
		return nil, fmt.Errorf("买入金额必须大于 0")
	}
	if !buy && req.Amount <= 0 {
		return nil, fmt.Errorf("卖出数量必须大于 0")
	}

	price := req.Price
	marketOrder := price <= 0
	if marketOrder {
		fetched, err := e.gateway.CurrentPrice(ctx, coin)
		if err != nil || fetched <= 0 {
			// 拿不到现价就不碰交易所，直接记一笔失败单。
			return e.persist(ctx, &model.OrderModel{
				ConfigID:     req.ConfigID,
				Coin:         coin,
				Side:         side,
				Amount:       req.Amount,
				Status:       model.OrderStatusFailed,
				ErrorMessage: "Failed to get current price",
			}, false)
		}
		price = fetched
	}

	amount := req.Amount
	if buy {
		amount = divide(req.KRWAmount, price)
	}
	total := amount * price
	if total < minOrderKRW {
		scaled := scaledMinAmount(price)
		logger.Warnf("[engine] 订单金额 %.0f KRW 低于最小下单额 %d KRW，数量从 %.6f 上调为 %.6f %s",
			total, minOrderKRW, amount, scaled, coin)
		amount = scaled
		total = amount * price
	}

	order := &model.OrderModel{
		ConfigID: req.ConfigID,
		Coin:     coin,
		Side:     side,
		Amount:   amount,
		Price:    price,
		Total:    total,
	}

	if !e.enabled {
		order.Status = model.OrderStatusPending
		order.ErrorMessage = "Trading is disabled"
		return e.persist(ctx, order, false)
	}

	result, err := e.submit(ctx, side, coin, price, amount, total, marketOrder)
	if err == nil && result.Accepted() {
		order.Status = model.OrderStatusCompleted
		order.ExchangeOrderID = result.OrderID
		return e.persist(ctx, order, true)
	}
	order.Status = model.OrderStatusFailed
	order.ErrorMessage = failureMessage(result, err)
	return e.persist(ctx, order, false)
}

// submit 有显式价格时下限价单，否则走市价单。
// 市价买单按韩元金额报单，卖单按币量。
func (e *Engine) submit(ctx context.Context, side, coin string, price, amount, total float64, marketOrder bool) (*bithumb.OrderResult, error) {
	if side == model.SideBuy {
		if marketOrder {
			return e.gateway.PlaceMarketBuy(ctx, coin, total)
		}
		return e.gateway.PlaceLimitBuy(ctx, coin, price, amount)
	}
	if marketOrder {
		return e.gateway.PlaceMarketSell(ctx, coin, amount)
	}
	return e.gateway.PlaceLimitSell(ctx, coin, price, amount)
}

// failureMessage 保留网关错误原文，拒单消息缺失时用固定兜底。
func failureMessage(result *bithumb.OrderResult, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case result == nil:
		return "API call failed"
	case result.Message != "":
		return result.Message
	default:
		return "Unknown error"
	}
}

// persist 在一个事务里写订单，settle 为真时一并写成交与持仓。
func (e *Engine) persist(ctx context.Context, order *model.OrderModel, settle bool) (*model.OrderModel, error) {
	uow, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("开启事务失败: %w", err)
	}
	defer uow.Rollback()

	if err := uow.Orders().Save(ctx, order); err != nil {
		return nil, fmt.Errorf("保存订单失败: %w", err)
	}
	if settle {
		if err := settleOrder(ctx, uow, order); err != nil {
			return nil, err
		}
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}
	return order, nil
}

// settleOrder 记成交并推平持仓。
// 卖出的已实现盈亏按成交前的均价计算，之后才动持仓数量。
func settleOrder(ctx context.Context, uow store.UnitOfWork, order *model.OrderModel) error {
	balance, err := uow.Balances().FindByCoin(ctx, order.Coin)
	if err != nil {
		return fmt.Errorf("读取持仓失败: %w", err)
	}
	if balance == nil {
		balance = &model.BalanceModel{Coin: order.Coin}
	}

	profit := 0.0
	if order.Side == model.SideSell && balance.AvgBuyPrice > 0 {
		profit = (order.Price - balance.AvgBuyPrice) * order.Amount
	}
	trade := &model.TradeModel{
		OrderID:  order.ID,
		ConfigID: order.ConfigID,
		Coin:     order.Coin,
		Side:     order.Side,
		Amount:   order.Amount,
		Price:    order.Price,
		Total:    order.Total,
		Fee:      order.Total * feeRate,
		Profit:   profit,
	}
	if err := uow.Trades().Insert(ctx, trade); err != nil {
		return fmt.Errorf("保存成交记录失败: %w", err)
	}

	if order.Side == model.SideBuy {
		// 买入重算加权均价。
		totalValue := balance.Total*balance.AvgBuyPrice + order.Amount*order.Price
		balance.Total += order.Amount
		if balance.Total > 0 {
			balance.AvgBuyPrice = totalValue / balance.Total
		} else {
			balance.AvgBuyPrice = order.Price
		}
	} else {
		// 卖出只减数量，均价保持不变。
		balance.Total -= order.Amount
	}
	balance.Available = balance.Total
	if err := uow.Balances().Upsert(ctx, balance); err != nil {
		return fmt.Errorf("保存持仓失败: %w", err)
	}
	return nil
}
