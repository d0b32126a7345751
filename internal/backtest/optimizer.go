package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"maru/internal/logger"
	"maru/internal/market"
	"maru/internal/scheduler"
	"maru/internal/store/model"
	"maru/internal/strategy"
)

const (
	defaultTrials = 50
	defaultSeed   = 42

	// 成交不足 5 笔的参数没有统计意义，直接给惩罚分。
	minTradesForScore = 5
	// 前 5 个试验完成之前不剪枝，避免中位数基准太薄。
	pruneStartupTrials = 5

	penaltyScore = sharpeUndefined
)

// CalibrationRequest 为某个策略配置搜索更优参数。
// 零值字段取配置文件里的默认值。
type CalibrationRequest struct {
	ConfigID   int64  `json:"config_id" binding:"required"`
	Trials     int    `json:"trials"`
	WindowDays int    `json:"window_days"`
	Interval   string `json:"interval"`
	Seed       int64  `json:"seed"`
}

// Candidate 是一次试验的参数与回放成绩。
type Candidate struct {
	Trial          int             `json:"trial"`
	Params         strategy.Params `json:"params"`
	Score          float64         `json:"score"`
	Sharpe         float64         `json:"sharpe"`
	ReturnPct      float64         `json:"return_pct"`
	WinRate        float64         `json:"win_rate"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
	TotalTrades    int             `json:"total_trades"`
	Pruned         bool            `json:"pruned,omitempty"`
}

// calSpec 是后台寻参需要的全部输入，入队时就定型。
type calSpec struct {
	coin       string
	kind       string
	interval   string
	windowDays int
	trials     int
	seed       int64
}

// StartCalibration 校验请求、插入排队中的寻参任务并启动后台搜索。
func (s *Service) StartCalibration(ctx context.Context, req CalibrationRequest) (*model.CalibrationRunModel, error) {
	if req.ConfigID <= 0 {
		return nil, fmt.Errorf("config_id 不能为空")
	}
	trials := req.Trials
	if trials <= 0 {
		trials = s.cfg.Trials
	}
	if trials <= 0 {
		trials = defaultTrials
	}
	windowDays := req.WindowDays
	if windowDays <= 0 {
		windowDays = defaultCalibrationWindowDays
	}
	interval := req.Interval
	if interval == "" {
		interval = defaultRunInterval
	}
	if _, ok := scheduler.ParseIntervalDuration(interval); !ok {
		return nil, fmt.Errorf("不支持的 K 线周期: %s", interval)
	}
	seed := req.Seed
	if seed == 0 {
		seed = s.cfg.Seed
	}
	if seed == 0 {
		seed = defaultSeed
	}

	cfg, err := s.loadConfig(ctx, req.ConfigID)
	if err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case strategy.KindMovingAverage, strategy.KindRSI, strategy.KindBollinger,
		strategy.KindMACD, strategy.KindStochastic:
	default:
		return nil, fmt.Errorf("策略种类 %s 不支持自动寻参", cfg.Kind)
	}

	run := &model.CalibrationRunModel{
		ID:         uuid.NewString(),
		ConfigID:   cfg.ID,
		Coin:       cfg.Coin,
		Kind:       cfg.Kind,
		Interval:   interval,
		WindowDays: windowDays,
		Trials:     trials,
		Seed:       seed,
		Status:     model.RunStatusQueued,
	}
	if err := s.insertCalibration(ctx, run); err != nil {
		return nil, err
	}
	logger.Infof("[backtest] 寻参 %s 入队: %s %s %s 试验=%d 种子=%d", run.ID, cfg.Name, cfg.Coin, interval, trials, seed)

	go s.runCalibration(run.ID, calSpec{
		coin:       cfg.Coin,
		kind:       cfg.Kind,
		interval:   interval,
		windowDays: windowDays,
		trials:     trials,
		seed:       seed,
	})
	return run, nil
}

func (s *Service) runCalibration(runID string, spec calSpec) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("[backtest] 寻参 %s panic: %v", runID, rec)
			debug.PrintStack()
			s.setCalibrationStatus(runID, model.RunStatusFailed, fmt.Sprintf("panic: %v", rec))
		}
	}()

	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		s.setCalibrationStatus(runID, model.RunStatusCancelled, "服务已关闭")
		return
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	s.setCalibrationStatus(runID, model.RunStatusRunning, "")

	candles, err := s.loadCandles(ctx, spec.coin, spec.interval, spec.windowDays)
	if err != nil {
		if ctx.Err() != nil {
			s.setCalibrationStatus(runID, model.RunStatusCancelled, ctx.Err().Error())
			return
		}
		s.setCalibrationStatus(runID, model.RunStatusFailed, err.Error())
		return
	}

	ranked, err := s.searchParams(ctx, spec.kind, candles, spec.trials, spec.seed)
	if err != nil {
		if ctx.Err() != nil {
			s.setCalibrationStatus(runID, model.RunStatusCancelled, ctx.Err().Error())
			return
		}
		s.setCalibrationStatus(runID, model.RunStatusFailed, err.Error())
		return
	}
	if err := s.finishCalibration(runID, ranked); err != nil {
		logger.Errorf("[backtest] 寻参 %s 写结果失败: %v", runID, err)
		s.setCalibrationStatus(runID, model.RunStatusFailed, err.Error())
		return
	}
	best := ranked[0]
	logger.Infof("[backtest] 寻参 %s 完成: 最优得分=%.4f 试验=#%d 成交=%d",
		runID, best.Score, best.Trial, best.TotalTrades)
}

// searchParams 在同一段 K 线上并行回放随机采样的参数，按得分从高到低返回全部候选。
// 参数序列在启动任何试验之前就从种子采样完毕，并行度不影响结果。
func (s *Service) searchParams(ctx context.Context, kind string, candles market.Candles, trials int, seed int64) ([]Candidate, error) {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]strategy.Params, trials)
	for i := range samples {
		params, err := sampleStrategyParams(rng, kind)
		if err != nil {
			return nil, err
		}
		samples[i] = params
	}

	pruner := newMedianPruner(pruneStartupTrials)
	candidates := make([]Candidate, trials)

	g, gctx := errgroup.WithContext(ctx)
	parallel := s.cfg.TrialParallel
	if parallel < 1 {
		parallel = 1
	}
	g.SetLimit(parallel)
	for i := range samples {
		trial := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			candidates[trial] = s.runTrial(trial, kind, samples[trial], candles, pruner)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranked := append([]Candidate(nil), candidates...)
	// 稳定排序保证同分时试验号小的靠前。
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked, nil
}

func (s *Service) runTrial(trial int, kind string, params strategy.Params, candles market.Candles, pruner *medianPruner) Candidate {
	cand := Candidate{Trial: trial, Params: params, Score: penaltyScore}

	strat, err := strategy.Build(kind, params)
	if err != nil {
		logger.Warnf("[backtest] 试验 #%d 构建策略失败: %v", trial, err)
		return cand
	}
	exec, err := params.Execution()
	if err != nil {
		logger.Warnf("[backtest] 试验 #%d 解析执行参数失败: %v", trial, err)
		return cand
	}

	ratios := make(map[int]float64)
	res, err := Replay(Simulation{
		Strategy:       strat,
		Candles:        candles,
		InitialBalance: s.cfg.InitialBalanceKRW,
		FeeRate:        s.cfg.FeeRate,
		ProfitTarget:   exec.ProfitTarget,
		StopLoss:       exec.StopLoss,
		Observer: func(step int, ratio float64) bool {
			ratios[step] = ratio
			return !pruner.shouldPrune(step, ratio)
		},
	})
	if err != nil {
		logger.Warnf("[backtest] 试验 #%d 回放失败: %v", trial, err)
		return cand
	}

	cand.Sharpe = res.Report.Sharpe
	cand.ReturnPct = res.Report.TotalReturnPct
	cand.WinRate = res.Report.WinRate
	cand.MaxDrawdownPct = res.Report.MaxDrawdownPct
	cand.TotalTrades = res.Report.TotalTrades
	if res.Report.Pruned {
		cand.Pruned = true
		return cand
	}
	pruner.complete(ratios)
	if cand.TotalTrades < minTradesForScore {
		return cand
	}
	cand.Score = res.Report.Sharpe
	return cand
}

// finishCalibration 把最优参数与全部候选写回任务行。
func (s *Service) finishCalibration(runID string, ranked []Candidate) error {
	if len(ranked) == 0 {
		return fmt.Errorf("没有产生任何候选参数")
	}
	best := ranked[0]
	bestJSON, err := json.Marshal(best.Params)
	if err != nil {
		return fmt.Errorf("编码最优参数失败: %w", err)
	}
	candidatesJSON, err := json.Marshal(ranked)
	if err != nil {
		return fmt.Errorf("编码候选列表失败: %w", err)
	}

	// 结果写入不挂在任务 ctx 上，停机前最后一刻也要能落库。
	ctx := context.Background()
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	cals := uow.Calibrations()
	cal, err := cals.FindByID(ctx, runID)
	if err != nil {
		return err
	}
	if cal == nil {
		return fmt.Errorf("寻参任务 %s 不存在", runID)
	}
	cal.Status = model.RunStatusDone
	cal.ErrorMessage = ""
	cal.BestScore = best.Score
	cal.BestParamsJSON = datatypes.JSON(bestJSON)
	cal.CandidatesJSON = datatypes.JSON(candidatesJSON)
	if err := cals.Update(ctx, cal); err != nil {
		return err
	}
	return uow.Commit()
}

// ApplyCalibration 把最优参数合并进原策略配置。
// 只覆盖搜索涉及的键，交易额等执行参数保持原值。
func (s *Service) ApplyCalibration(ctx context.Context, id string) (*model.StrategyConfigModel, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	cal, err := uow.Calibrations().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cal == nil {
		return nil, fmt.Errorf("寻参任务 %s 不存在", id)
	}
	if cal.Status != model.RunStatusDone || len(cal.BestParamsJSON) == 0 {
		return nil, fmt.Errorf("寻参任务 %s 尚未完成", id)
	}

	cfg, err := uow.Configs().FindByID(ctx, cal.ConfigID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("策略配置 %d 不存在", cal.ConfigID)
	}
	if cfg.Kind != cal.Kind {
		return nil, fmt.Errorf("策略配置 %d 的种类已从 %s 改为 %s，寻参结果不再适用", cfg.ID, cal.Kind, cfg.Kind)
	}

	merged, err := strategy.ParseParams(cfg.ParamsJSON)
	if err != nil {
		return nil, err
	}
	best, err := strategy.ParseParams(cal.BestParamsJSON)
	if err != nil {
		return nil, err
	}
	for k, v := range best {
		merged[k] = v
	}
	if err := strategy.ValidateParams(cfg.Kind, merged); err != nil {
		return nil, err
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("编码合并参数失败: %w", err)
	}

	cfg.ParamsJSON = datatypes.JSON(mergedJSON)
	if err := uow.Configs().Save(ctx, cfg); err != nil {
		return nil, err
	}
	cal.AppliedAtUnix = time.Now().Unix()
	if err := uow.Calibrations().Update(ctx, cal); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	logger.Infof("[backtest] 寻参 %s 的最优参数已应用到配置 %d (%s)", cal.ID, cfg.ID, cfg.Name)
	return cfg, nil
}

// GetCalibration 返回单个寻参任务。
func (s *Service) GetCalibration(ctx context.Context, id string) (*model.CalibrationRunModel, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	cal, err := uow.Calibrations().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return cal, nil
}

// ListCalibrations 返回最近的寻参任务。
func (s *Service) ListCalibrations(ctx context.Context, limit int) ([]model.CalibrationRunModel, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	cals, err := uow.Calibrations().ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return cals, nil
}

// medianPruner 在检查点上把落后于已完成试验中位数的试验提前砍掉。
// 被剪掉的试验不参与中位数，避免基准被坏样本拉低。
type medianPruner struct {
	mu        sync.Mutex
	startup   int
	completed int
	byStep    map[int][]float64
}

func newMedianPruner(startup int) *medianPruner {
	return &medianPruner{startup: startup, byStep: make(map[int][]float64)}
}

func (p *medianPruner) shouldPrune(step int, ratio float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed < p.startup {
		return false
	}
	vals := p.byStep[step]
	if len(vals) == 0 {
		return false
	}
	return ratio < median(vals)
}

func (p *medianPruner) complete(ratios map[int]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	for step, ratio := range ratios {
		p.byStep[step] = append(p.byStep[step], ratio)
	}
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// sampleStrategyParams 按种类的取值范围采样一组参数。
// 整型参数在闭区间取整数，浮点参数在区间内均匀采样；
// 止盈止损同时参与搜索，回放时按风控出场生效。
func sampleStrategyParams(rng *rand.Rand, kind string) (strategy.Params, error) {
	params := strategy.Params{}
	switch kind {
	case strategy.KindMovingAverage:
		short := intBetween(rng, 3, 15)
		long := intBetween(rng, 15, 50)
		if long <= short {
			long = short + 1
		}
		params["short_period"] = short
		params["long_period"] = long
	case strategy.KindRSI:
		params["period"] = intBetween(rng, 7, 28)
		params["oversold"] = intBetween(rng, 20, 40)
		params["overbought"] = intBetween(rng, 60, 80)
	case strategy.KindBollinger:
		params["period"] = intBetween(rng, 10, 40)
		params["std_dev"] = floatBetween(rng, 1.5, 3.0)
	case strategy.KindMACD:
		fast := intBetween(rng, 8, 16)
		slow := intBetween(rng, 20, 35)
		if slow <= fast {
			slow = fast + 5
		}
		params["fast_period"] = fast
		params["slow_period"] = slow
		params["signal_period"] = intBetween(rng, 5, 15)
	case strategy.KindStochastic:
		params["k_period"] = intBetween(rng, 10, 21)
		params["d_period"] = intBetween(rng, 2, 5)
		params["oversold"] = intBetween(rng, 15, 30)
		params["overbought"] = intBetween(rng, 70, 85)
	default:
		return nil, fmt.Errorf("策略种类 %s 不支持自动寻参", kind)
	}
	params["profit_target"] = floatBetween(rng, 1.0, 10.0)
	params["stop_loss"] = floatBetween(rng, 1.0, 5.0)
	return params, nil
}

func intBetween(rng *rand.Rand, lo, hi int) int {
	return lo + rng.Intn(hi-lo+1)
}

func floatBetween(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func (s *Service) setCalibrationStatus(runID, status, errorMessage string) {
	// 状态写入用独立 ctx，宿主取消时还要能标记 cancelled。
	ctx := context.Background()
	uow, err := s.store.Begin(ctx)
	if err != nil {
		logger.Errorf("[backtest] 更新寻参 %s 状态失败: %v", runID, err)
		return
	}
	defer uow.Rollback()
	if err := uow.Calibrations().SetStatus(ctx, runID, status, errorMessage); err != nil {
		logger.Errorf("[backtest] 更新寻参 %s 状态失败: %v", runID, err)
		return
	}
	if err := uow.Commit(); err != nil {
		logger.Errorf("[backtest] 更新寻参 %s 状态失败: %v", runID, err)
	}
}

func (s *Service) insertCalibration(ctx context.Context, run *model.CalibrationRunModel) error {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()
	if err := uow.Calibrations().Insert(ctx, run); err != nil {
		return err
	}
	return uow.Commit()
}
