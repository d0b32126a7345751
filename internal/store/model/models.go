package model

import (
	"time"

	"gorm.io/datatypes"
)

type OrderStatus int

const (
	OrderStatusPending   OrderStatus = 0
	OrderStatusCompleted OrderStatus = 1
	OrderStatusFailed    OrderStatus = 2
	OrderStatusCancelled OrderStatus = 3
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusCompleted:
		return "COMPLETED"
	case OrderStatusFailed:
		return "FAILED"
	case OrderStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// StrategyConfigModel 是一条可开关的策略配置。
// 种类相关参数与 trade_amount/profit_target 等执行面参数都放在 params_json 里。
type StrategyConfigModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Name          string         `gorm:"column:name;uniqueIndex"`
	Coin          string         `gorm:"column:coin"`
	Kind          string         `gorm:"column:kind"`
	ParamsJSON    datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	MaxBuyAmount  float64        `gorm:"column:max_buy_amount"`
	HighestPrice  float64        `gorm:"column:highest_price"`
	Enabled       bool           `gorm:"column:enabled"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (StrategyConfigModel) TableName() string { return "strategy_configs" }

// OrderModel 每次下单调用都会留下一条记录，无论成败。
type OrderModel struct {
	ID              int64       `gorm:"column:id;primaryKey"`
	ConfigID        int64       `gorm:"column:strategy_config_id;index"`
	Coin            string      `gorm:"column:coin"`
	Side            string      `gorm:"column:side"`
	Amount          float64     `gorm:"column:amount"`
	Price           float64     `gorm:"column:price"`
	Total           float64     `gorm:"column:total"`
	Fee             float64     `gorm:"column:fee"`
	Status          OrderStatus `gorm:"column:status"`
	ExchangeOrderID string      `gorm:"column:exchange_order_id"`
	ErrorMessage    string      `gorm:"column:error_message"`
	CreatedAtUnix   int64       `gorm:"column:created_at"`

	CreatedAt time.Time `gorm:"-"`
}

func (OrderModel) TableName() string { return "orders" }

// TradeModel 只在实际成交后写入，卖出时带已实现盈亏。
type TradeModel struct {
	ID            int64     `gorm:"column:id;primaryKey"`
	OrderID       int64     `gorm:"column:order_id;index"`
	ConfigID      int64     `gorm:"column:strategy_config_id;index"`
	Coin          string    `gorm:"column:coin"`
	Side          string    `gorm:"column:side"`
	Amount        float64   `gorm:"column:amount"`
	Price         float64   `gorm:"column:price"`
	Total         float64   `gorm:"column:total"`
	Fee           float64   `gorm:"column:fee"`
	Profit        float64   `gorm:"column:profit"`
	CreatedAtUnix int64     `gorm:"column:created_at"`
	CreatedAt     time.Time `gorm:"-"`
}

func (TradeModel) TableName() string { return "trades" }

// BalanceModel 维护本地持仓与买入均价，作为交易所余额不可用时的后备。
type BalanceModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	Coin          string  `gorm:"column:coin;uniqueIndex"`
	Total         float64 `gorm:"column:total_amount"`
	Available     float64 `gorm:"column:available_amount"`
	Locked        float64 `gorm:"column:locked_amount"`
	AvgBuyPrice   float64 `gorm:"column:avg_buy_price"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (BalanceModel) TableName() string { return "balances" }
