// Package trader 驱动实盘执行周期。
//
// 每轮分两段：先对设了止盈止损的配置做风控平仓，再对其余启用配置跑策略
// 信号。每个启用配置每轮恰好落一条执行日志，风控平掉的配置当轮不再进
// 信号段。
package trader

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"maru/internal/config"
	"maru/internal/engine"
	"maru/internal/gateway/bithumb"
	"maru/internal/logger"
	"maru/internal/market"
	"maru/internal/scheduler"
	"maru/internal/store"
	"maru/internal/store/model"
)

// Executor 是订单执行引擎的最小接口。
type Executor interface {
	ExecuteBuy(ctx context.Context, req engine.Request) (*model.OrderModel, error)
	ExecuteSell(ctx context.Context, req engine.Request) (*model.OrderModel, error)
}

// Gateway 是周期循环需要的交易所能力。
type Gateway interface {
	HasCredentials() bool
	CurrentPrice(ctx context.Context, coin string) (float64, error)
	Candles(ctx context.Context, coin, interval string, count int) (market.Candles, error)
	Balance(ctx context.Context, coin string) (bithumb.Account, error)
}

// Trader 实盘执行循环。
type Trader struct {
	store    store.Store
	gateway  Gateway
	executor Executor
	cache    store.CandleCache
	cfg      config.TradingConfig

	inFlight atomic.Bool
}

func New(st store.Store, gw Gateway, exec Executor, cache store.CandleCache, cfg config.TradingConfig) *Trader {
	return &Trader{store: st, gateway: gw, executor: exec, cache: cache, cfg: cfg}
}

// Run 阻塞运行，按配置的间隔对齐到整点边界触发，ctx 取消后返回。
func (t *Trader) Run(ctx context.Context) {
	interval := t.cfg.Interval()
	if interval <= 0 {
		interval = time.Minute
	}
	sched := scheduler.NewAlignedScheduler(ctx, interval, 0)
	sched.RunImmediately = true
	sched.Start(func() { t.RunCycle(ctx) })
}

// RunCycle 执行一轮。上一轮还没跑完时直接跳过本次触发。
func (t *Trader) RunCycle(ctx context.Context) {
	if !t.inFlight.CompareAndSwap(false, true) {
		logger.Warnf("[trader] 上一轮还在执行，跳过本次触发")
		return
	}
	defer t.inFlight.Store(false)

	start := time.Now()
	configs, err := t.enabledConfigs(ctx)
	if err != nil {
		logger.Errorf("[trader] 读取启用策略失败: %v", err)
		return
	}
	if len(configs) == 0 {
		return
	}

	c := newCycle(t)
	exited := c.riskPass(ctx, configs)
	c.signalPass(ctx, configs, exited)
	logger.Infof("[trader] 本轮执行完成: 策略=%d 风控平仓=%d 耗时=%s",
		len(configs), len(exited), time.Since(start).Truncate(time.Millisecond))
}

// cycle 承载单轮执行的临时状态，同一轮里同币种的 K 线只拉一次。
type cycle struct {
	t       *Trader
	candles map[string]market.Candles
}

func newCycle(t *Trader) *cycle {
	return &cycle{t: t, candles: make(map[string]market.Candles)}
}

// fetchCandles 拉取评估序列：优先实时数据并回填缓存，拉取失败时退回
// 缓存里最近一次成功的数据。
func (c *cycle) fetchCandles(ctx context.Context, coin string) (market.Candles, error) {
	interval := c.t.cfg.CandleInterval
	key := coin + "@" + interval
	if cached, ok := c.candles[key]; ok {
		return cached, nil
	}

	count := c.t.cfg.CandleCount
	fetched, err := c.t.gateway.Candles(ctx, coin, interval, count)
	if err == nil {
		if d, ok := scheduler.ParseIntervalDuration(interval); ok {
			fetched = scheduler.DropUnclosedCandle(fetched, d)
		}
		if c.t.cache != nil {
			_ = c.t.cache.Put(ctx, coin, interval, fetched, count)
		}
		c.candles[key] = fetched
		return fetched, nil
	}

	if c.t.cache != nil {
		cached, cacheErr := c.t.cache.Get(ctx, coin, interval)
		if cacheErr == nil && len(cached) > 0 {
			logger.Warnf("[trader] 拉取 %s K 线失败，退回缓存数据: %v", coin, err)
			c.candles[key] = cached
			return cached, nil
		}
	}
	return nil, err
}

func (t *Trader) enabledConfigs(ctx context.Context) ([]model.StrategyConfigModel, error) {
	uow, err := t.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	return uow.Configs().ListEnabled(ctx)
}

func (t *Trader) writeLog(ctx context.Context, entry *model.ExecutionLogModel) {
	uow, err := t.store.Begin(ctx)
	if err != nil {
		logger.Errorf("[trader] 写执行日志失败: %v", err)
		return
	}
	defer uow.Rollback()
	if err := uow.Logs().Insert(ctx, entry); err != nil {
		logger.Errorf("[trader] 写执行日志失败: %v", err)
		return
	}
	if err := uow.Commit(); err != nil {
		logger.Errorf("[trader] 写执行日志失败: %v", err)
	}
}

func (t *Trader) investedKRW(ctx context.Context, configID int64) (float64, error) {
	uow, err := t.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer uow.Rollback()
	return uow.Orders().SumCompletedBuyTotal(ctx, configID)
}

func (t *Trader) localBalance(ctx context.Context, coin string) *model.BalanceModel {
	uow, err := t.store.Begin(ctx)
	if err != nil {
		return nil
	}
	defer uow.Rollback()
	row, err := uow.Balances().FindByCoin(ctx, coin)
	if err != nil {
		return nil
	}
	return row
}

func (t *Trader) recordHighestPrice(ctx context.Context, id int64, price float64) {
	uow, err := t.store.Begin(ctx)
	if err != nil {
		return
	}
	defer uow.Rollback()
	if err := uow.Configs().UpdateHighestPrice(ctx, id, price); err != nil {
		logger.Debugf("[trader] 更新最高价失败 id=%d: %v", id, err)
		return
	}
	_ = uow.Commit()
}

// formatAmount 按最短十进制输出币数量，日志里不出现科学计数法。
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
