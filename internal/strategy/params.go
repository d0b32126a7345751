package strategy

import (
	"encoding/json"
	"fmt"
)

// Params 是策略配置里随 kind 变化的参数包。
// 写入口（配置注册、HTTP 接口）已按 schema 校验过，这里只做宽松取值。
type Params map[string]any

// ParseParams 解析存储层的 JSON 参数包，空内容按空包处理。
func ParseParams(raw []byte) (Params, error) {
	if len(raw) == 0 {
		return Params{}, nil
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("解析策略参数失败: %w", err)
	}
	if p == nil {
		p = Params{}
	}
	return p, nil
}

// Float 取数值参数，缺省时用 def，存在但不是数值时报错。
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("参数 %s 不是数值: %v", key, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("参数 %s 不是数值: %v", key, v)
	}
}

// Int 同 Float，但按整数返回。
func (p Params) Int(key string, def int) (int, error) {
	f, err := p.Float(key, float64(def))
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// ExecutionParams 是所有策略种类共用的执行面参数。
type ExecutionParams struct {
	// TradeAmount 信号卖出时的币本位数量。
	TradeAmount float64
	// TradeAmountKRW 信号买入时的韩元金额，同时参与买入预算统计。
	TradeAmountKRW float64
	// ProfitTarget 止盈百分比，0 表示未配置。
	ProfitTarget float64
	// StopLoss 止损百分比，0 表示未配置。
	StopLoss float64
}

// Execution 从参数包提取执行面参数。
func (p Params) Execution() (ExecutionParams, error) {
	tradeAmount, err := p.Float("trade_amount", 0.001)
	if err != nil {
		return ExecutionParams{}, err
	}
	tradeAmountKRW, err := p.Float("trade_amount_krw", 10000)
	if err != nil {
		return ExecutionParams{}, err
	}
	profitTarget, err := p.Float("profit_target", 0)
	if err != nil {
		return ExecutionParams{}, err
	}
	stopLoss, err := p.Float("stop_loss", 0)
	if err != nil {
		return ExecutionParams{}, err
	}
	return ExecutionParams{
		TradeAmount:    tradeAmount,
		TradeAmountKRW: tradeAmountKRW,
		ProfitTarget:   profitTarget,
		StopLoss:       stopLoss,
	}, nil
}
