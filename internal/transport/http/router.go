package apihttp

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"maru/internal/backtest"
	"maru/internal/store"
)

// Router 注册策略管理与查询接口。
type Router struct {
	store    store.Store
	backtest *backtest.Service
}

// NewRouter 构造业务 router，backtest 可以为 nil。
func NewRouter(st store.Store, bt *backtest.Service) *Router {
	return &Router{store: st, backtest: bt}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/strategies", r.handleStrategyList)
	group.POST("/strategies", r.handleStrategyCreate)
	group.GET("/strategies/:id", r.handleStrategyDetail)
	group.PUT("/strategies/:id", r.handleStrategyUpdate)
	group.DELETE("/strategies/:id", r.handleStrategyDelete)
	group.POST("/strategies/:id/toggle", r.handleStrategyToggle)

	group.GET("/orders", r.handleOrderList)
	group.GET("/trades", r.handleTradeList)
	group.GET("/balances", r.handleBalanceList)
	group.GET("/logs", r.handleLogList)

	group.POST("/backtest/runs", r.handleRunStart)
	group.GET("/backtest/runs", r.handleRunList)
	group.GET("/backtest/runs/:id", r.handleRunDetail)

	group.POST("/calibrations", r.handleCalibrationStart)
	group.GET("/calibrations", r.handleCalibrationList)
	group.GET("/calibrations/:id", r.handleCalibrationDetail)
	group.POST("/calibrations/:id/apply", r.handleCalibrationApply)
}

// parseLimit 读取 limit 查询参数，非法值回退默认并按上限截断。
func parseLimit(c *gin.Context, def, max int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

// parseConfigID 读取可选的 config_id 过滤参数，0 表示不过滤。
func parseConfigID(c *gin.Context) int64 {
	id, _ := strconv.ParseInt(c.Query("config_id"), 10, 64)
	if id < 0 {
		return 0
	}
	return id
}

// pathID 解析路径里的数字主键，失败时直接写 400。
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 id"})
		return 0, false
	}
	return id, true
}
