package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"maru/internal/config"
	"maru/internal/logger"
	"maru/internal/market"
	"maru/internal/scheduler"
	"maru/internal/store"
	"maru/internal/store/model"
	"maru/internal/strategy"
)

// 回测窗口默认用 30 天日线，寻参加大到 90 天。
const (
	defaultRunWindowDays         = 30
	defaultCalibrationWindowDays = 90
	defaultRunInterval           = "1d"
)

// maxFetchCount 是交易所单次 K 线请求的上限。
const maxFetchCount = 200

// CandleSource 提供历史档案的回补来源，由交易所公共行情接口实现。
type CandleSource interface {
	Candles(ctx context.Context, coin, interval string, count int) (market.Candles, error)
	CandlesBefore(ctx context.Context, coin, interval string, count int, to time.Time) (market.Candles, error)
}

// Service 管理回测与寻参任务：落任务行、补历史数据、在后台跑回放。
type Service struct {
	store   store.Store
	history *History
	source  CandleSource
	cfg     config.BacktestConfig

	sem     chan struct{}
	baseCtx context.Context
}

func NewService(st store.Store, history *History, source CandleSource, cfg config.BacktestConfig) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if history == nil {
		return nil, fmt.Errorf("history 不能为空")
	}
	if source == nil {
		return nil, fmt.Errorf("candle source 不能为空")
	}
	maxRuns := cfg.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 1
	}
	return &Service{
		store:   st,
		history: history,
		source:  source,
		cfg:     cfg,
		sem:     make(chan struct{}, maxRuns),
		baseCtx: context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于后台任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// RunRequest 提交一次回测，参数取自 ConfigID 指向的策略配置。
type RunRequest struct {
	ConfigID       int64   `json:"config_id" binding:"required"`
	WindowDays     int     `json:"window_days"`
	Interval       string  `json:"interval"`
	InitialBalance float64 `json:"initial_balance"`
	TradeAmountPct float64 `json:"trade_amount_pct"`
}

// replaySpec 是后台回放需要的全部输入，入队时就定型。
type replaySpec struct {
	coin           string
	strat          strategy.Strategy
	exec           strategy.ExecutionParams
	interval       string
	windowDays     int
	initialBalance float64
	tradePct       float64
}

// StartRun 校验请求、插入排队中的任务行并启动后台回放。
func (s *Service) StartRun(ctx context.Context, req RunRequest) (*model.BacktestRunModel, error) {
	if req.ConfigID <= 0 {
		return nil, fmt.Errorf("config_id 不能为空")
	}
	windowDays := req.WindowDays
	if windowDays <= 0 {
		windowDays = defaultRunWindowDays
	}
	interval := req.Interval
	if interval == "" {
		interval = defaultRunInterval
	}
	if _, ok := scheduler.ParseIntervalDuration(interval); !ok {
		return nil, fmt.Errorf("不支持的 K 线周期: %s", interval)
	}
	initial := req.InitialBalance
	if initial <= 0 {
		initial = s.cfg.InitialBalanceKRW
	}
	tradePct := req.TradeAmountPct
	if tradePct <= 0 || tradePct > 100 {
		tradePct = defaultTradePct
	}

	cfg, err := s.loadConfig(ctx, req.ConfigID)
	if err != nil {
		return nil, err
	}
	params, err := strategy.ParseParams(cfg.ParamsJSON)
	if err != nil {
		return nil, fmt.Errorf("解析策略参数失败: %w", err)
	}
	strat, err := strategy.Build(cfg.Kind, params)
	if err != nil {
		return nil, err
	}
	exec, err := params.Execution()
	if err != nil {
		return nil, err
	}

	run := &model.BacktestRunModel{
		ID:             uuid.NewString(),
		ConfigID:       cfg.ID,
		Coin:           cfg.Coin,
		Kind:           cfg.Kind,
		ParamsJSON:     append(datatypes.JSON(nil), cfg.ParamsJSON...),
		Interval:       interval,
		WindowDays:     windowDays,
		InitialBalance: initial,
		Status:         model.RunStatusQueued,
	}
	if err := s.insertRun(ctx, run); err != nil {
		return nil, err
	}
	logger.Infof("[backtest] 回测 %s 入队: %s %s %s 窗口=%d天", run.ID, cfg.Name, cfg.Coin, interval, windowDays)

	go s.runReplay(run.ID, replaySpec{
		coin:           cfg.Coin,
		strat:          strat,
		exec:           exec,
		interval:       interval,
		windowDays:     windowDays,
		initialBalance: initial,
		tradePct:       tradePct,
	})
	return run, nil
}

func (s *Service) runReplay(runID string, spec replaySpec) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("[backtest] 回测 %s panic: %v", runID, rec)
			debug.PrintStack()
			s.setRunStatus(runID, model.RunStatusFailed, fmt.Sprintf("panic: %v", rec))
		}
	}()

	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		s.setRunStatus(runID, model.RunStatusCancelled, "服务已关闭")
		return
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	s.setRunStatus(runID, model.RunStatusRunning, "")

	candles, err := s.loadCandles(ctx, spec.coin, spec.interval, spec.windowDays)
	if err != nil {
		if ctx.Err() != nil {
			s.setRunStatus(runID, model.RunStatusCancelled, ctx.Err().Error())
			return
		}
		s.setRunStatus(runID, model.RunStatusFailed, err.Error())
		return
	}

	res, err := Replay(Simulation{
		Strategy:       spec.strat,
		Candles:        candles,
		InitialBalance: spec.initialBalance,
		FeeRate:        s.cfg.FeeRate,
		TradeAmountPct: spec.tradePct,
		ProfitTarget:   spec.exec.ProfitTarget,
		StopLoss:       spec.exec.StopLoss,
	})
	if err != nil {
		s.setRunStatus(runID, model.RunStatusFailed, err.Error())
		return
	}
	if err := s.finishRun(runID, res); err != nil {
		logger.Errorf("[backtest] 回测 %s 写结果失败: %v", runID, err)
		s.setRunStatus(runID, model.RunStatusFailed, err.Error())
		return
	}
	logger.Infof("[backtest] 回测 %s 完成: 收益=%.2f%% 交易=%d 夏普=%.2f",
		runID, res.Report.TotalReturnPct, res.Report.TotalTrades, res.Report.Sharpe)
}

// loadCandles 取最近 windowDays 天的 K 线，不足的部分先从交易所回补。
func (s *Service) loadCandles(ctx context.Context, coin, interval string, windowDays int) (market.Candles, error) {
	step, ok := scheduler.ParseIntervalDuration(interval)
	if !ok || step <= 0 {
		return nil, fmt.Errorf("不支持的 K 线周期: %s", interval)
	}
	perDay := int(24 * time.Hour / step)
	if perDay < 1 {
		perDay = 1
	}
	need := windowDays * perDay
	if need < 2 {
		need = 2
	}
	if err := s.ensureHistory(ctx, coin, interval, need); err != nil {
		return nil, err
	}
	candles, err := s.history.Recent(ctx, coin, interval, need)
	if err != nil {
		return nil, err
	}
	if len(candles) < 2 {
		return nil, fmt.Errorf("%s %s 没有足够的历史 K 线", coin, interval)
	}
	if len(candles) < need {
		logger.Warnf("[backtest] %s %s 档案只有 %d 根，少于窗口所需 %d 根", coin, interval, len(candles), need)
	}
	return candles, nil
}

// ensureHistory 先补最新一页保证窗口右沿是新的，再从最早一根向前翻页直到够数。
func (s *Service) ensureHistory(ctx context.Context, coin, interval string, need int) error {
	have, err := s.history.Count(ctx, coin, interval)
	if err != nil {
		return err
	}
	page, err := s.source.Candles(ctx, coin, interval, maxFetchCount)
	if err != nil {
		// 行情接口不可用时退回档案已有数据，没有档案才算失败。
		if have > 0 {
			logger.Warnf("[backtest] 拉取 %s %s 最新 K 线失败，使用本地档案: %v", coin, interval, err)
			return nil
		}
		return fmt.Errorf("拉取 %s %s K 线失败: %w", coin, interval, err)
	}
	if _, err := s.history.Insert(ctx, coin, interval, page); err != nil {
		return err
	}

	for {
		have, err = s.history.Count(ctx, coin, interval)
		if err != nil {
			return err
		}
		if int(have) >= need {
			return nil
		}
		earliest, err := s.history.EarliestOpenTime(ctx, coin, interval)
		if err != nil {
			return err
		}
		if earliest <= 0 {
			return nil
		}
		older, err := s.source.CandlesBefore(ctx, coin, interval, maxFetchCount, time.UnixMilli(earliest))
		if err != nil {
			logger.Warnf("[backtest] 回补 %s %s 历史失败，以现有 %d 根继续: %v", coin, interval, have, err)
			return nil
		}
		if len(older) == 0 {
			// 交易所没有更早的数据了。
			return nil
		}
		if _, err := s.history.Insert(ctx, coin, interval, older); err != nil {
			return err
		}
		if older[0].OpenTime >= earliest {
			return nil
		}
	}
}

// finishRun 把回放结果写回任务行。
func (s *Service) finishRun(runID string, res Result) error {
	statsJSON, err := json.Marshal(res.Report)
	if err != nil {
		return fmt.Errorf("编码回测指标失败: %w", err)
	}
	tradesJSON, err := json.Marshal(res.Trades)
	if err != nil {
		return fmt.Errorf("编码逐笔明细失败: %w", err)
	}

	// 结果写入不挂在任务 ctx 上，停机前最后一刻也要能落库。
	ctx := context.Background()
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	runs := uow.BacktestRuns()
	run, err := runs.FindByID(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("回测任务 %s 不存在", runID)
	}
	run.Status = model.RunStatusDone
	run.ErrorMessage = ""
	run.FinalBalance = res.Report.FinalBalance
	run.ReturnPct = res.Report.TotalReturnPct
	run.WinRate = res.Report.WinRate
	run.MaxDrawdownPct = res.Report.MaxDrawdownPct
	run.Sharpe = res.Report.Sharpe
	run.TotalTrades = res.Report.TotalTrades
	run.StatsJSON = datatypes.JSON(statsJSON)
	run.TradesJSON = datatypes.JSON(tradesJSON)
	if err := runs.Update(ctx, run); err != nil {
		return err
	}
	return uow.Commit()
}

func (s *Service) setRunStatus(runID, status, errorMessage string) {
	// 状态写入同样用独立 ctx，宿主取消时还要能标记 cancelled。
	ctx := context.Background()
	uow, err := s.store.Begin(ctx)
	if err != nil {
		logger.Errorf("[backtest] 更新回测 %s 状态失败: %v", runID, err)
		return
	}
	defer uow.Rollback()
	if err := uow.BacktestRuns().SetStatus(ctx, runID, status, errorMessage); err != nil {
		logger.Errorf("[backtest] 更新回测 %s 状态失败: %v", runID, err)
		return
	}
	if err := uow.Commit(); err != nil {
		logger.Errorf("[backtest] 更新回测 %s 状态失败: %v", runID, err)
	}
}

func (s *Service) insertRun(ctx context.Context, run *model.BacktestRunModel) error {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()
	if err := uow.BacktestRuns().Insert(ctx, run); err != nil {
		return err
	}
	return uow.Commit()
}

func (s *Service) loadConfig(ctx context.Context, id int64) (*model.StrategyConfigModel, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	cfg, err := uow.Configs().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("策略配置 %d 不存在", id)
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetRun 返回单个回测任务。
func (s *Service) GetRun(ctx context.Context, id string) (*model.BacktestRunModel, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	run, err := uow.BacktestRuns().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns 返回最近的回测任务。
func (s *Service) ListRuns(ctx context.Context, limit int) ([]model.BacktestRunModel, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	runs, err := uow.BacktestRuns().ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return runs, nil
}
