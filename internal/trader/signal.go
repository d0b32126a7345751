package trader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"maru/internal/engine"
	"maru/internal/logger"
	"maru/internal/pkg/text"
	"maru/internal/store/model"
	"maru/internal/strategy"
)

// signalPass 对风控段之外的启用配置逐个评估策略信号。
// 单个配置出错或 panic 不影响其余配置，且每个配置都会落一条日志。
func (c *cycle) signalPass(ctx context.Context, configs []model.StrategyConfigModel, exited map[int64]bool) {
	for i := range configs {
		cfg := &configs[i]
		if exited[cfg.ID] {
			continue
		}
		c.t.writeLog(ctx, c.safeCheck(ctx, cfg))
	}
}

func (c *cycle) safeCheck(ctx context.Context, cfg *model.StrategyConfigModel) (entry *model.ExecutionLogModel) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("[trader] 策略 %s 检查 panic: %v", cfg.Name, rec)
			debug.PrintStack()
			entry = failEntry(newLogEntry(cfg), fmt.Errorf("panic: %v", rec))
		}
	}()
	return c.check(ctx, cfg)
}

func (c *cycle) check(ctx context.Context, cfg *model.StrategyConfigModel) *model.ExecutionLogModel {
	entry := newLogEntry(cfg)

	params, err := strategy.ParseParams(cfg.ParamsJSON)
	if err != nil {
		return failEntry(entry, err)
	}
	strat, err := strategy.Build(cfg.Kind, params)
	if err != nil {
		return failEntry(entry, err)
	}
	exec, err := params.Execution()
	if err != nil {
		return failEntry(entry, err)
	}
	// 没有密钥时不碰引擎，也不会产生订单行。
	if !c.t.gateway.HasCredentials() {
		return failEntry(entry, errors.New("exchange API credentials not configured"))
	}

	candles, err := c.fetchCandles(ctx, cfg.Coin)
	if err != nil {
		return failEntry(entry, err)
	}

	switch {
	case strat.ShouldBuy(candles):
		entry.Signal = model.SignalBuy
		c.executeBuy(ctx, cfg, exec, entry)
	case strat.ShouldSell(candles):
		entry.Signal = model.SignalSell
		c.executeSell(ctx, cfg, exec, entry)
	default:
		entry.Message = "Strategy checked - no signal"
	}
	return entry
}

// executeBuy 先做预算上限检查，再按 trade_amount_krw 市价买入。
func (c *cycle) executeBuy(ctx context.Context, cfg *model.StrategyConfigModel, exec strategy.ExecutionParams, entry *model.ExecutionLogModel) {
	if cfg.MaxBuyAmount > 0 {
		invested, err := c.t.investedKRW(ctx, cfg.ID)
		if err != nil {
			failEntry(entry, err)
			return
		}
		if invested+exec.TradeAmountKRW > cfg.MaxBuyAmount {
			entry.Message = fmt.Sprintf("Buy order skipped: max buy amount limit reached (%s/%s KRW)",
				text.Comma(int64(invested)), text.Comma(int64(cfg.MaxBuyAmount)))
			logger.Infof("[trader] %s 预算已满: %s", cfg.Name, entry.Message)
			return
		}
	}

	order, err := c.t.executor.ExecuteBuy(ctx, engine.Request{
		Coin:      cfg.Coin,
		KRWAmount: exec.TradeAmountKRW,
		ConfigID:  cfg.ID,
	})
	finishEntry(entry, "Buy", order, err)
}

// executeSell 卖出全部可用持仓，没有本地持仓行时退回配置的 trade_amount。
func (c *cycle) executeSell(ctx context.Context, cfg *model.StrategyConfigModel, exec strategy.ExecutionParams, entry *model.ExecutionLogModel) {
	amount := exec.TradeAmount
	if row := c.t.localBalance(ctx, cfg.Coin); row != nil && row.Available > 0 {
		amount = row.Available
	}

	order, err := c.t.executor.ExecuteSell(ctx, engine.Request{
		Coin:     cfg.Coin,
		Amount:   amount,
		ConfigID: cfg.ID,
	})
	finishEntry(entry, "Sell", order, err)
}

func newLogEntry(cfg *model.StrategyConfigModel) *model.ExecutionLogModel {
	return &model.ExecutionLogModel{
		ConfigID:     cfg.ID,
		StrategyName: cfg.Name,
		Coin:         cfg.Coin,
		Signal:       model.SignalHold,
	}
}

func failEntry(entry *model.ExecutionLogModel, err error) *model.ExecutionLogModel {
	entry.Message = "Strategy check failed"
	entry.ErrorMessage = err.Error()
	return entry
}

// finishEntry 把订单结果写进日志行。已成交记 executed，
// 其余状态统一记 created，失败原因走 error 列。
func finishEntry(entry *model.ExecutionLogModel, verb string, order *model.OrderModel, err error) {
	if err != nil {
		entry.Message = verb + " order failed"
		entry.ErrorMessage = err.Error()
		return
	}
	state := "created"
	if order.Status == model.OrderStatusCompleted {
		state = "executed"
	}
	entry.Executed = order.Status == model.OrderStatusCompleted
	entry.OrderID = &order.ID
	entry.Message = fmt.Sprintf("%s order %s: %s %s", verb, state, formatAmount(order.Amount), order.Coin)
	if order.Status == model.OrderStatusFailed {
		entry.ErrorMessage = order.ErrorMessage
	}
}
