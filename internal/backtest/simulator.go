package backtest

import (
	"fmt"
	"math"

	"maru/internal/market"
	"maru/internal/store/model"
	"maru/internal/strategy"
)

// 回放的默认口径：100 万韩元起始资金，0.25% 手续费，全仓进出。
const (
	defaultInitialBalance = 1_000_000.0
	defaultSimFeeRate     = 0.0025
	defaultTradePct       = 100.0
)

// sharpeUndefined 在收益序列方差为零时顶替夏普值，
// 把完全不交易的参数推到排名末尾。
const sharpeUndefined = -10.0

// 卖出原因，写进逐笔明细。
const (
	ReasonSignal       = "signal"
	ReasonProfitTarget = "profit_target"
	ReasonStopLoss     = "stop_loss"
)

// pruneCheckpoints 是一次回放向观察者汇报的次数。
const pruneCheckpoints = 10

// Simulation 是一次回放的全部输入。
// 回放是纯内存计算，不触网也不落库，相同输入必然得到相同输出。
type Simulation struct {
	Strategy       strategy.Strategy
	Candles        market.Candles
	InitialBalance float64
	FeeRate        float64
	TradeAmountPct float64
	// ProfitTarget 与 StopLoss 为正时在持仓期间生效，检查先于卖出信号，
	// 与实盘循环里风控段先于信号段的次序一致。
	ProfitTarget float64
	StopLoss     float64
	// Observer 在回放推进到固定检查点时收到 净值/本金 比值，
	// 返回 false 则终止回放并把结果标记为 Pruned。
	Observer func(step int, equityRatio float64) bool
}

// SimTrade 是回放中的一笔成交，卖出行带盈亏与触发原因。
type SimTrade struct {
	Time      int64   `json:"time"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Total     float64 `json:"total"`
	Fee       float64 `json:"fee"`
	Profit    float64 `json:"profit,omitempty"`
	ProfitPct float64 `json:"profit_pct,omitempty"`
	BuyPrice  float64 `json:"buy_price,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// EquityPoint 是资金曲线上的一个采样点。
type EquityPoint struct {
	Time   int64   `json:"time"`
	Equity float64 `json:"equity"`
}

// Report 汇总一次回放的绩效指标。
type Report struct {
	InitialBalance float64 `json:"initial_balance"`
	FinalBalance   float64 `json:"final_balance"`
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Sharpe         float64 `json:"sharpe_ratio"`
	StartTime      int64   `json:"start_time"`
	EndTime        int64   `json:"end_time"`
	Pruned         bool    `json:"pruned,omitempty"`
}

// Result 是回放的完整产出。资金曲线只用于算指标和展示，不落库。
type Result struct {
	Report Report
	Trades []SimTrade
	Equity []EquityPoint
}

type simPosition struct {
	price  float64
	amount float64
	fee    float64
}

// Replay 把策略回放到一段升序 K 线上。
// 每根 K 线先记净值再评估信号，买卖都按收盘价成交；
// 同一时刻最多一个仓位，结束时未平的持仓按市价计入净值，不补平仓单。
func Replay(sim Simulation) (Result, error) {
	if sim.Strategy == nil {
		return Result{}, fmt.Errorf("strategy 不能为空")
	}
	if len(sim.Candles) == 0 {
		return Result{}, fmt.Errorf("没有可用的历史 K 线")
	}
	initial := sim.InitialBalance
	if initial <= 0 {
		initial = defaultInitialBalance
	}
	feeRate := sim.FeeRate
	if feeRate <= 0 {
		feeRate = defaultSimFeeRate
	}
	pct := sim.TradeAmountPct
	if pct <= 0 || pct > 100 {
		pct = defaultTradePct
	}

	balance := initial
	var position *simPosition
	minLook := sim.Strategy.MinCandles()
	stride := 0
	if sim.Observer != nil {
		stride = len(sim.Candles) / pruneCheckpoints
	}

	res := Result{
		Trades: []SimTrade{},
		Equity: make([]EquityPoint, 0, len(sim.Candles)),
	}
	wins, losses, sells := 0, 0, 0

	for i, candle := range sim.Candles {
		price := candle.Close
		ts := candle.CloseTime
		if ts == 0 {
			ts = candle.OpenTime
		}

		held := 0.0
		if position != nil {
			held = position.amount
		}
		equity := balance + held*price
		res.Equity = append(res.Equity, EquityPoint{Time: ts, Equity: equity})

		if stride > 0 && (i+1)%stride == 0 && i < len(sim.Candles)-1 {
			if !sim.Observer((i+1)/stride, equity/initial) {
				res.Report.Pruned = true
				break
			}
		}

		// 历史不足时策略只会返回 false，直接跳过省一次指标计算。
		if i+1 < minLook {
			continue
		}
		window := sim.Candles[:i+1]

		if position == nil {
			if balance <= 0 || price <= 0 || !sim.Strategy.ShouldBuy(window) {
				continue
			}
			tradeKRW := balance * pct / 100
			fee := tradeKRW * feeRate
			amount := (tradeKRW - fee) / price
			balance -= tradeKRW
			position = &simPosition{price: price, amount: amount, fee: fee}
			res.Trades = append(res.Trades, SimTrade{
				Time:   ts,
				Side:   model.SideBuy,
				Price:  price,
				Amount: amount,
				Total:  tradeKRW,
				Fee:    fee,
			})
			continue
		}

		profitPct := 0.0
		if position.price > 0 {
			profitPct = (price - position.price) / position.price * 100
		}
		reason := ""
		switch {
		case sim.ProfitTarget > 0 && profitPct >= sim.ProfitTarget:
			reason = ReasonProfitTarget
		case sim.StopLoss > 0 && profitPct <= -sim.StopLoss:
			reason = ReasonStopLoss
		case sim.Strategy.ShouldSell(window):
			reason = ReasonSignal
		}
		if reason == "" {
			continue
		}

		amount := position.amount
		gross := amount * price
		fee := gross * feeRate
		balance += gross - fee
		profit := (price-position.price)*amount - position.fee - fee
		if profit > 0 {
			wins++
		} else {
			losses++
		}
		sells++
		res.Trades = append(res.Trades, SimTrade{
			Time:      ts,
			Side:      model.SideSell,
			Price:     price,
			Amount:    amount,
			Total:     gross,
			Fee:       fee,
			Profit:    profit,
			ProfitPct: profitPct,
			BuyPrice:  position.price,
			Reason:    reason,
		})
		position = nil
	}

	final := balance
	if position != nil {
		final += position.amount * sim.Candles[len(sim.Candles)-1].Close
	}

	rep := &res.Report
	rep.InitialBalance = initial
	rep.FinalBalance = final
	rep.TotalReturn = final - initial
	rep.TotalReturnPct = rep.TotalReturn / initial * 100
	rep.TotalTrades = sells
	rep.WinningTrades = wins
	rep.LosingTrades = losses
	if sells > 0 {
		rep.WinRate = float64(wins) / float64(sells) * 100
	}
	values := make([]float64, len(res.Equity))
	for i, p := range res.Equity {
		values[i] = p.Equity
	}
	rep.MaxDrawdownPct = maxDrawdownPct(values)
	rep.Sharpe = sharpeRatio(values)
	rep.StartTime = res.Equity[0].Time
	rep.EndTime = res.Equity[len(res.Equity)-1].Time
	return res, nil
}

// maxDrawdownPct 返回资金曲线峰到谷的最大回撤百分比。
func maxDrawdownPct(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD * 100
}

// sharpeRatio 按逐根收益率算年化夏普（√252），收益率用样本标准差。
// 序列太短或方差为零时返回哨兵值。
func sharpeRatio(equity []float64) float64 {
	if len(equity) < 3 {
		return sharpeUndefined
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1]
		if prev == 0 {
			continue
		}
		returns = append(returns, (equity[i]-prev)/prev)
	}
	if len(returns) < 2 {
		return sharpeUndefined
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	ss := 0.0
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	if std == 0 {
		return sharpeUndefined
	}
	return mean / std * math.Sqrt(252)
}
