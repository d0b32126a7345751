package store

import (
	"context"

	"maru/internal/store/model"
)

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	// Configs returns the strategy config repository within this transaction.
	Configs() ConfigRepository
	// Orders returns the order repository within this transaction.
	Orders() OrderRepository
	// Trades returns the trade repository within this transaction.
	Trades() TradeRepository
	// Balances returns the balance repository within this transaction.
	Balances() BalanceRepository
	// Logs returns the execution log repository within this transaction.
	Logs() LogRepository
	// BacktestRuns returns the backtest run repository within this transaction.
	BacktestRuns() BacktestRunRepository
	// Calibrations returns the calibration run repository within this transaction.
	Calibrations() CalibrationRepository
}

// Store is the entry point for database access.
type Store interface {
	// Begin starts a new UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)
	// Close closes the store connection.
	Close() error
}

// ConfigRepository handles strategy config persistence.
type ConfigRepository interface {
	Save(ctx context.Context, cfg *model.StrategyConfigModel) error
	FindByID(ctx context.Context, id int64) (*model.StrategyConfigModel, error)
	FindByName(ctx context.Context, name string) (*model.StrategyConfigModel, error)
	ListAll(ctx context.Context) ([]model.StrategyConfigModel, error)
	ListEnabled(ctx context.Context) ([]model.StrategyConfigModel, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	// UpdateHighestPrice 记录持仓期间见过的最高价，只升不降。
	UpdateHighestPrice(ctx context.Context, id int64, price float64) error
	Delete(ctx context.Context, id int64) error
}

// OrderRepository handles order persistence.
type OrderRepository interface {
	Save(ctx context.Context, order *model.OrderModel) error
	FindByID(ctx context.Context, id int64) (*model.OrderModel, error)
	ListRecent(ctx context.Context, limit int) ([]model.OrderModel, error)
	ListByConfig(ctx context.Context, configID int64, limit int) ([]model.OrderModel, error)
	// SumCompletedBuyTotal 统计某策略所有已成交买单的 KRW 总额，用于预算上限判断。
	SumCompletedBuyTotal(ctx context.Context, configID int64) (float64, error)
}

// TradeRepository handles trade record persistence.
type TradeRepository interface {
	Insert(ctx context.Context, trade *model.TradeModel) error
	ListRecent(ctx context.Context, limit int) ([]model.TradeModel, error)
	ListByConfig(ctx context.Context, configID int64, limit int) ([]model.TradeModel, error)
}

// BalanceRepository handles local balance bookkeeping.
type BalanceRepository interface {
	Upsert(ctx context.Context, balance *model.BalanceModel) error
	FindByCoin(ctx context.Context, coin string) (*model.BalanceModel, error)
	ListAll(ctx context.Context) ([]model.BalanceModel, error)
}

// LogRepository handles execution log entries.
type LogRepository interface {
	Insert(ctx context.Context, entry *model.ExecutionLogModel) error
	ListRecent(ctx context.Context, limit int) ([]model.ExecutionLogModel, error)
	ListByConfig(ctx context.Context, configID int64, limit int) ([]model.ExecutionLogModel, error)
}

// BacktestRunRepository handles backtest run persistence.
type BacktestRunRepository interface {
	Insert(ctx context.Context, run *model.BacktestRunModel) error
	Update(ctx context.Context, run *model.BacktestRunModel) error
	// SetStatus 只改状态与错误信息，后台任务推进进度时使用。
	SetStatus(ctx context.Context, id, status, errorMessage string) error
	FindByID(ctx context.Context, id string) (*model.BacktestRunModel, error)
	ListRecent(ctx context.Context, limit int) ([]model.BacktestRunModel, error)
}

// CalibrationRepository handles calibration run persistence.
type CalibrationRepository interface {
	Insert(ctx context.Context, run *model.CalibrationRunModel) error
	Update(ctx context.Context, run *model.CalibrationRunModel) error
	SetStatus(ctx context.Context, id, status, errorMessage string) error
	FindByID(ctx context.Context, id string) (*model.CalibrationRunModel, error)
	ListRecent(ctx context.Context, limit int) ([]model.CalibrationRunModel, error)
}
