package model

const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
	SignalHold = "HOLD"
)

// ExecutionLogModel maps to 'execution_logs'. 每个启用策略每轮恰好一条。
type ExecutionLogModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	ConfigID      int64  `gorm:"column:strategy_config_id;index"`
	StrategyName  string `gorm:"column:strategy_name"`
	Coin          string `gorm:"column:coin"`
	Signal        string `gorm:"column:signal"`
	Executed      bool   `gorm:"column:executed"`
	OrderID       *int64 `gorm:"column:order_id"`
	Message       string `gorm:"column:message"`
	ErrorMessage  string `gorm:"column:error_message"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

func (ExecutionLogModel) TableName() string { return "execution_logs" }
