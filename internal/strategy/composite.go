package strategy

import (
	"fmt"

	"maru/internal/market"
)

// composite 组合策略：子策略各自独立判断，赞同数达到 min_confirmations 才触发。
// 买卖两个方向分开计票，互不影响。
type composite struct {
	children         []Strategy
	minConfirmations int
}

func newComposite(params Params) (Strategy, error) {
	minConfirmations, err := params.Int("min_confirmations", 2)
	if err != nil {
		return nil, err
	}
	if minConfirmations < 1 {
		return nil, fmt.Errorf("参数 min_confirmations 必须不小于 1，当前为 %d", minConfirmations)
	}

	raw, ok := params["strategy_types"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("组合策略缺少 strategy_types")
	}
	entries, ok := raw.([]any)
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("组合策略的 strategy_types 必须是非空数组")
	}

	children := make([]Strategy, 0, len(entries))
	for i, entry := range entries {
		item, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("strategy_types[%d] 不是对象", i)
		}
		kind, _ := item["type"].(string)
		if kind == "" {
			return nil, fmt.Errorf("strategy_types[%d] 缺少 type", i)
		}
		if kind == KindComposite {
			return nil, fmt.Errorf("strategy_types[%d]: 组合策略不支持嵌套组合", i)
		}
		childParams := Params{}
		if rawParams, ok := item["params"].(map[string]any); ok {
			childParams = Params(rawParams)
		}
		child, err := Build(kind, childParams)
		if err != nil {
			return nil, fmt.Errorf("strategy_types[%d]: %w", i, err)
		}
		children = append(children, child)
	}

	return &composite{children: children, minConfirmations: minConfirmations}, nil
}

func (s *composite) Name() string { return KindComposite }

// MinCandles 取子策略的最大需求，保证每个子策略都有足够历史。
func (s *composite) MinCandles() int {
	max := 0
	for _, child := range s.children {
		if n := child.MinCandles(); n > max {
			max = n
		}
	}
	return max
}

func (s *composite) ShouldBuy(candles market.Candles) bool {
	votes := 0
	for _, child := range s.children {
		if child.ShouldBuy(candles) {
			votes++
		}
	}
	return votes >= s.minConfirmations
}

func (s *composite) ShouldSell(candles market.Candles) bool {
	votes := 0
	for _, child := range s.children {
		if child.ShouldSell(candles) {
			votes++
		}
	}
	return votes >= s.minConfirmations
}
