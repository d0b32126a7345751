package model

import (
	"time"

	"gorm.io/datatypes"
)

// 回测与寻参任务的生命周期状态。
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusDone      = "done"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// BacktestRunModel 是一次历史回放任务。
// 提交时插入，回放在后台完成后把指标与逐笔明细写回同一行。
type BacktestRunModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	ConfigID       int64          `gorm:"column:strategy_config_id;index"`
	Coin           string         `gorm:"column:coin"`
	Kind           string         `gorm:"column:kind"`
	ParamsJSON     datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	Interval       string         `gorm:"column:interval"`
	WindowDays     int            `gorm:"column:window_days"`
	InitialBalance float64        `gorm:"column:initial_balance"`
	FinalBalance   float64        `gorm:"column:final_balance"`
	ReturnPct      float64        `gorm:"column:return_pct"`
	WinRate        float64        `gorm:"column:win_rate"`
	MaxDrawdownPct float64        `gorm:"column:max_drawdown_pct"`
	Sharpe         float64        `gorm:"column:sharpe"`
	TotalTrades    int            `gorm:"column:total_trades"`
	Status         string         `gorm:"column:status;index"`
	ErrorMessage   string         `gorm:"column:error_message"`
	StatsJSON      datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	TradesJSON     datatypes.JSON `gorm:"column:trades_json;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (BacktestRunModel) TableName() string { return "backtest_runs" }

// CalibrationRunModel 是一次参数寻优任务。
// 最优参数与全部候选的得分都保留下来，应用与否由人工决定。
type CalibrationRunModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	ConfigID       int64          `gorm:"column:strategy_config_id;index"`
	Coin           string         `gorm:"column:coin"`
	Kind           string         `gorm:"column:kind"`
	Interval       string         `gorm:"column:interval"`
	WindowDays     int            `gorm:"column:window_days"`
	Trials         int            `gorm:"column:trials"`
	Seed           int64          `gorm:"column:seed"`
	Status         string         `gorm:"column:status;index"`
	BestScore      float64        `gorm:"column:best_score"`
	BestParamsJSON datatypes.JSON `gorm:"column:best_params_json;type:TEXT"`
	CandidatesJSON datatypes.JSON `gorm:"column:candidates_json;type:TEXT"`
	ErrorMessage   string         `gorm:"column:error_message"`
	AppliedAtUnix  int64          `gorm:"column:applied_at"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (CalibrationRunModel) TableName() string { return "calibration_runs" }
