package apihttp

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"maru/internal/backtest"
	"maru/internal/logger"
	"maru/internal/store/model"
)

type runView struct {
	ID             string          `json:"id"`
	ConfigID       int64           `json:"config_id"`
	Coin           string          `json:"coin"`
	Kind           string          `json:"kind"`
	Params         json.RawMessage `json:"params,omitempty"`
	Interval       string          `json:"interval"`
	WindowDays     int             `json:"window_days"`
	InitialBalance float64         `json:"initial_balance"`
	FinalBalance   float64         `json:"final_balance"`
	ReturnPct      float64         `json:"return_pct"`
	WinRate        float64         `json:"win_rate"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
	Sharpe         float64         `json:"sharpe"`
	TotalTrades    int             `json:"total_trades"`
	Status         string          `json:"status"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Stats          json.RawMessage `json:"stats,omitempty"`
	Trades         json.RawMessage `json:"trades,omitempty"`
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at"`
}

// newRunView 构造回测任务视图，列表场景不带逐笔明细。
func newRunView(m *model.BacktestRunModel, detailed bool) runView {
	v := runView{
		ID:             m.ID,
		ConfigID:       m.ConfigID,
		Coin:           m.Coin,
		Kind:           m.Kind,
		Params:         json.RawMessage(m.ParamsJSON),
		Interval:       m.Interval,
		WindowDays:     m.WindowDays,
		InitialBalance: m.InitialBalance,
		FinalBalance:   m.FinalBalance,
		ReturnPct:      m.ReturnPct,
		WinRate:        m.WinRate,
		MaxDrawdownPct: m.MaxDrawdownPct,
		Sharpe:         m.Sharpe,
		TotalTrades:    m.TotalTrades,
		Status:         m.Status,
		ErrorMessage:   m.ErrorMessage,
		CreatedAt:      m.CreatedAtUnix,
		UpdatedAt:      m.UpdatedAtUnix,
	}
	if detailed {
		v.Stats = json.RawMessage(m.StatsJSON)
		v.Trades = json.RawMessage(m.TradesJSON)
	}
	return v
}

type calibrationView struct {
	ID           string          `json:"id"`
	ConfigID     int64           `json:"config_id"`
	Coin         string          `json:"coin"`
	Kind         string          `json:"kind"`
	Interval     string          `json:"interval"`
	WindowDays   int             `json:"window_days"`
	Trials       int             `json:"trials"`
	Seed         int64           `json:"seed"`
	Status       string          `json:"status"`
	BestScore    float64         `json:"best_score"`
	BestParams   json.RawMessage `json:"best_params,omitempty"`
	Candidates   json.RawMessage `json:"candidates,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	AppliedAt    int64           `json:"applied_at,omitempty"`
	CreatedAt    int64           `json:"created_at"`
	UpdatedAt    int64           `json:"updated_at"`
}

// newCalibrationView 构造寻参任务视图，列表场景不带候选明细。
func newCalibrationView(m *model.CalibrationRunModel, detailed bool) calibrationView {
	v := calibrationView{
		ID:           m.ID,
		ConfigID:     m.ConfigID,
		Coin:         m.Coin,
		Kind:         m.Kind,
		Interval:     m.Interval,
		WindowDays:   m.WindowDays,
		Trials:       m.Trials,
		Seed:         m.Seed,
		Status:       m.Status,
		BestScore:    m.BestScore,
		ErrorMessage: m.ErrorMessage,
		AppliedAt:    m.AppliedAtUnix,
		CreatedAt:    m.CreatedAtUnix,
		UpdatedAt:    m.UpdatedAtUnix,
	}
	if detailed {
		v.BestParams = json.RawMessage(m.BestParamsJSON)
		v.Candidates = json.RawMessage(m.CandidatesJSON)
	}
	return v
}

func (r *Router) handleRunStart(c *gin.Context) {
	if r.backtest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测服务未启用"})
		return
	}
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Errorf("[api] 提交回测 bind failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := r.backtest.StartRun(c.Request.Context(), req)
	if err != nil {
		logger.Errorf("[api] 提交回测失败 ip=%s config_id=%d err=%v", c.ClientIP(), req.ConfigID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] 提交回测 id=%s config_id=%d ip=%s", run.ID, run.ConfigID, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"run": newRunView(run, false)})
}

func (r *Router) handleRunList(c *gin.Context) {
	if r.backtest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测服务未启用"})
		return
	}
	limit := parseLimit(c, 50, 500)
	runs, err := r.backtest.ListRuns(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] 查询回测列表失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]runView, 0, len(runs))
	for i := range runs {
		views = append(views, newRunView(&runs[i], false))
	}
	c.JSON(http.StatusOK, gin.H{"runs": views})
}

func (r *Router) handleRunDetail(c *gin.Context) {
	if r.backtest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测服务未启用"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 id"})
		return
	}
	run, err := r.backtest.GetRun(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "回测任务不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": newRunView(run, true)})
}

func (r *Router) handleCalibrationStart(c *gin.Context) {
	if r.backtest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测服务未启用"})
		return
	}
	var req backtest.CalibrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Errorf("[api] 提交寻参 bind failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cal, err := r.backtest.StartCalibration(c.Request.Context(), req)
	if err != nil {
		logger.Errorf("[api] 提交寻参失败 ip=%s config_id=%d err=%v", c.ClientIP(), req.ConfigID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] 提交寻参 id=%s config_id=%d ip=%s", cal.ID, cal.ConfigID, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"calibration": newCalibrationView(cal, false)})
}

func (r *Router) handleCalibrationList(c *gin.Context) {
	if r.backtest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测服务未启用"})
		return
	}
	limit := parseLimit(c, 50, 500)
	cals, err := r.backtest.ListCalibrations(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] 查询寻参列表失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]calibrationView, 0, len(cals))
	for i := range cals {
		views = append(views, newCalibrationView(&cals[i], false))
	}
	c.JSON(http.StatusOK, gin.H{"calibrations": views})
}

func (r *Router) handleCalibrationDetail(c *gin.Context) {
	if r.backtest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测服务未启用"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 id"})
		return
	}
	cal, err := r.backtest.GetCalibration(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "寻参任务不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calibration": newCalibrationView(cal, true)})
}

func (r *Router) handleCalibrationApply(c *gin.Context) {
	if r.backtest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测服务未启用"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 id"})
		return
	}
	cfg, err := r.backtest.ApplyCalibration(c.Request.Context(), id)
	if err != nil {
		logger.Errorf("[api] 应用寻参结果失败 ip=%s id=%s err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] 应用寻参结果 id=%s config_id=%d ip=%s", id, cfg.ID, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"strategy": newStrategyView(cfg)})
}
