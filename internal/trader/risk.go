package trader

import (
	"context"
	"fmt"

	"maru/internal/engine"
	"maru/internal/logger"
	"maru/internal/store/model"
	"maru/internal/strategy"
)

// riskPass 先于信号段执行：达到止盈或止损线的持仓直接市价卖出。
// 返回本轮已风控处理的配置 ID，信号段会跳过它们。
func (c *cycle) riskPass(ctx context.Context, configs []model.StrategyConfigModel) map[int64]bool {
	exited := make(map[int64]bool)
	if !c.t.gateway.HasCredentials() {
		// 没有密钥做不了持仓检查，信号段会为每个配置落错误日志。
		return exited
	}
	for i := range configs {
		cfg := &configs[i]
		if entry := c.checkRiskExit(ctx, cfg); entry != nil {
			exited[cfg.ID] = true
			c.t.writeLog(ctx, entry)
		}
	}
	return exited
}

func (c *cycle) checkRiskExit(ctx context.Context, cfg *model.StrategyConfigModel) *model.ExecutionLogModel {
	params, err := strategy.ParseParams(cfg.ParamsJSON)
	if err != nil {
		// 参数坏了留给信号段落错误日志。
		return nil
	}
	exec, err := params.Execution()
	if err != nil {
		return nil
	}
	if exec.ProfitTarget <= 0 && exec.StopLoss <= 0 {
		return nil
	}

	total, avg, available := c.position(ctx, cfg.Coin)
	if total <= 0 || avg <= 0 {
		return nil
	}

	price, err := c.t.gateway.CurrentPrice(ctx, cfg.Coin)
	if err != nil || price <= 0 {
		logger.Warnf("[trader] 风控检查拿不到 %s 现价: %v", cfg.Coin, err)
		return nil
	}
	if price > cfg.HighestPrice {
		c.t.recordHighestPrice(ctx, cfg.ID, price)
	}

	profitPct := (price - avg) / avg * 100
	var reason string
	switch {
	case exec.ProfitTarget > 0 && profitPct >= exec.ProfitTarget:
		reason = "Profit target"
	case exec.StopLoss > 0 && profitPct <= -exec.StopLoss:
		reason = "Stop loss"
	default:
		return nil
	}
	if available <= 0 {
		return nil
	}

	logger.Infof("[trader] %s: %s 收益率 %.2f%% 触发 %s，市价卖出 %s",
		cfg.Name, cfg.Coin, profitPct, reason, formatAmount(available))

	order, err := c.t.executor.ExecuteSell(ctx, engine.Request{
		Coin:     cfg.Coin,
		Amount:   available,
		ConfigID: cfg.ID,
	})
	entry := newLogEntry(cfg)
	entry.Signal = model.SignalSell
	entry.Message = fmt.Sprintf("%s sell order: %s %s", reason, formatAmount(available), cfg.Coin)
	if err != nil {
		entry.ErrorMessage = err.Error()
		return entry
	}
	entry.Executed = order.Status == model.OrderStatusCompleted
	entry.OrderID = &order.ID
	if order.Status == model.OrderStatusFailed {
		entry.ErrorMessage = order.ErrorMessage
	}
	return entry
}

// position 返回某币种的持仓。优先交易所账户，交易所拿不到或账上没有
// 均价时退回本地持仓表。
func (c *cycle) position(ctx context.Context, coin string) (total, avg, available float64) {
	acct, err := c.t.gateway.Balance(ctx, coin)
	if err == nil && acct.Total() > 0 && acct.AvgBuyPrice > 0 {
		return acct.Total(), acct.AvgBuyPrice, acct.Available
	}
	if err != nil {
		logger.Debugf("[trader] 查询 %s 交易所余额失败，退回本地持仓: %v", coin, err)
	}
	if row := c.t.localBalance(ctx, coin); row != nil && row.Total > 0 && row.AvgBuyPrice > 0 {
		return row.Total, row.AvgBuyPrice, row.Available
	}
	return 0, 0, 0
}
