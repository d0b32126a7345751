package apihttp

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"maru/internal/logger"
	"maru/internal/store/model"
)

type orderView struct {
	ID              int64   `json:"id"`
	ConfigID        int64   `json:"config_id"`
	Coin            string  `json:"coin"`
	Side            string  `json:"side"`
	Amount          float64 `json:"amount"`
	Price           float64 `json:"price"`
	Total           float64 `json:"total"`
	Fee             float64 `json:"fee"`
	Status          string  `json:"status"`
	ExchangeOrderID string  `json:"exchange_order_id,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	CreatedAt       int64   `json:"created_at"`
}

type tradeView struct {
	ID        int64   `json:"id"`
	OrderID   int64   `json:"order_id"`
	ConfigID  int64   `json:"config_id"`
	Coin      string  `json:"coin"`
	Side      string  `json:"side"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Total     float64 `json:"total"`
	Fee       float64 `json:"fee"`
	Profit    float64 `json:"profit"`
	CreatedAt int64   `json:"created_at"`
}

type balanceView struct {
	Coin        string  `json:"coin"`
	Total       float64 `json:"total"`
	Available   float64 `json:"available"`
	Locked      float64 `json:"locked"`
	AvgBuyPrice float64 `json:"avg_buy_price"`
	UpdatedAt   int64   `json:"updated_at"`
}

type logView struct {
	ID           int64  `json:"id"`
	ConfigID     int64  `json:"config_id"`
	StrategyName string `json:"strategy_name"`
	Coin         string `json:"coin"`
	Signal       string `json:"signal"`
	Executed     bool   `json:"executed"`
	OrderID      *int64 `json:"order_id,omitempty"`
	Message      string `json:"message,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

func (r *Router) handleOrderList(c *gin.Context) {
	limit := parseLimit(c, 100, 500)
	configID := parseConfigID(c)
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer uow.Rollback()

	var orders []model.OrderModel
	if configID > 0 {
		orders, err = uow.Orders().ListByConfig(ctx, configID, limit)
	} else {
		orders, err = uow.Orders().ListRecent(ctx, limit)
	}
	if err != nil {
		logger.Errorf("[api] 查询订单失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := uow.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView{
			ID:              o.ID,
			ConfigID:        o.ConfigID,
			Coin:            o.Coin,
			Side:            o.Side,
			Amount:          o.Amount,
			Price:           o.Price,
			Total:           o.Total,
			Fee:             o.Fee,
			Status:          o.Status.String(),
			ExchangeOrderID: o.ExchangeOrderID,
			ErrorMessage:    o.ErrorMessage,
			CreatedAt:       o.CreatedAtUnix,
		})
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

func (r *Router) handleTradeList(c *gin.Context) {
	limit := parseLimit(c, 100, 500)
	configID := parseConfigID(c)
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer uow.Rollback()

	var trades []model.TradeModel
	if configID > 0 {
		trades, err = uow.Trades().ListByConfig(ctx, configID, limit)
	} else {
		trades, err = uow.Trades().ListRecent(ctx, limit)
	}
	if err != nil {
		logger.Errorf("[api] 查询成交失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := uow.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, tradeView{
			ID:        t.ID,
			OrderID:   t.OrderID,
			ConfigID:  t.ConfigID,
			Coin:      t.Coin,
			Side:      t.Side,
			Amount:    t.Amount,
			Price:     t.Price,
			Total:     t.Total,
			Fee:       t.Fee,
			Profit:    t.Profit,
			CreatedAt: t.CreatedAtUnix,
		})
	}
	c.JSON(http.StatusOK, gin.H{"trades": views})
}

func (r *Router) handleBalanceList(c *gin.Context) {
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer uow.Rollback()

	balances, err := uow.Balances().ListAll(ctx)
	if err != nil {
		logger.Errorf("[api] 查询余额失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := uow.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]balanceView, 0, len(balances))
	for _, b := range balances {
		views = append(views, balanceView{
			Coin:        b.Coin,
			Total:       b.Total,
			Available:   b.Available,
			Locked:      b.Locked,
			AvgBuyPrice: b.AvgBuyPrice,
			UpdatedAt:   b.UpdatedAtUnix,
		})
	}
	c.JSON(http.StatusOK, gin.H{"balances": views})
}

func (r *Router) handleLogList(c *gin.Context) {
	limit := parseLimit(c, 100, 500)
	configID := parseConfigID(c)
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer uow.Rollback()

	var entries []model.ExecutionLogModel
	if configID > 0 {
		entries, err = uow.Logs().ListByConfig(ctx, configID, limit)
	} else {
		entries, err = uow.Logs().ListRecent(ctx, limit)
	}
	if err != nil {
		logger.Errorf("[api] 查询执行日志失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := uow.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]logView, 0, len(entries))
	for _, e := range entries {
		views = append(views, logView{
			ID:           e.ID,
			ConfigID:     e.ConfigID,
			StrategyName: e.StrategyName,
			Coin:         e.Coin,
			Signal:       e.Signal,
			Executed:     e.Executed,
			OrderID:      e.OrderID,
			Message:      e.Message,
			ErrorMessage: e.ErrorMessage,
			CreatedAt:    e.CreatedAtUnix,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": views})
}
