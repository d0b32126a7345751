package apihttp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"maru/internal/logger"
	"maru/internal/pkg/symbol"
	"maru/internal/store"
	"maru/internal/store/model"
	"maru/internal/strategy"
)

// strategyView 是策略配置的接口形态，参数包原样透出。
type strategyView struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Coin         string          `json:"coin"`
	Kind         string          `json:"kind"`
	Params       json.RawMessage `json:"params"`
	MaxBuyAmount float64         `json:"max_buy_amount"`
	HighestPrice float64         `json:"highest_price,omitempty"`
	Enabled      bool            `json:"enabled"`
	CreatedAt    int64           `json:"created_at"`
	UpdatedAt    int64           `json:"updated_at"`
}

func newStrategyView(m *model.StrategyConfigModel) strategyView {
	params := json.RawMessage(m.ParamsJSON)
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	return strategyView{
		ID:           m.ID,
		Name:         m.Name,
		Coin:         m.Coin,
		Kind:         m.Kind,
		Params:       params,
		MaxBuyAmount: m.MaxBuyAmount,
		HighestPrice: m.HighestPrice,
		Enabled:      m.Enabled,
		CreatedAt:    m.CreatedAtUnix,
		UpdatedAt:    m.UpdatedAtUnix,
	}
}

// validateStrategyParams 先过 schema 再试构造，把跨字段问题也挡在写入口。
func validateStrategyParams(kind string, params strategy.Params) error {
	if err := strategy.ValidateParams(kind, params); err != nil {
		return err
	}
	_, err := strategy.Build(kind, params)
	return err
}

func (r *Router) handleStrategyList(c *gin.Context) {
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer uow.Rollback()

	configs, err := uow.Configs().ListAll(ctx)
	if err != nil {
		logger.Errorf("[api] 查询策略列表失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := uow.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]strategyView, 0, len(configs))
	for i := range configs {
		views = append(views, newStrategyView(&configs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"strategies": views})
}

func (r *Router) handleStrategyDetail(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer uow.Rollback()

	cfg, err := uow.Configs().FindByID(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "策略不存在"})
		return
	}
	if err := uow.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": newStrategyView(cfg)})
}

func (r *Router) handleStrategyCreate(c *gin.Context) {
	var req struct {
		Name         string         `json:"name" binding:"required"`
		Coin         string         `json:"coin" binding:"required"`
		Kind         string         `json:"kind" binding:"required"`
		Params       map[string]any `json:"params"`
		MaxBuyAmount float64        `json:"max_buy_amount"`
		Enabled      *bool          `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Errorf("[api] 创建策略 bind failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coin := symbol.NormalizeCoin(req.Coin)
	if coin == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法识别的币种: " + req.Coin})
		return
	}
	params := strategy.Params(req.Params)
	if params == nil {
		params = strategy.Params{}
	}
	if err := validateStrategyParams(req.Kind, params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer uow.Rollback()

	configs := uow.Configs()
	// Save 按名字做 upsert，重名必须在这里拦下来。
	existing, err := configs.FindByName(ctx, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "策略名称已存在: " + req.Name})
		return
	}
	if enabled {
		if conflict, err := findEnabledDuplicate(ctx, configs, coin, req.Kind, 0); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		} else if conflict != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": "币种 " + coin + " 已有同种类的启用策略: " + conflict.Name,
			})
			return
		}
	}

	cfg := &model.StrategyConfigModel{
		Name:         req.Name,
		Coin:         coin,
		Kind:         req.Kind,
		ParamsJSON:   datatypes.JSON(paramsJSON),
		MaxBuyAmount: req.MaxBuyAmount,
		Enabled:      enabled,
	}
	if err := configs.Save(ctx, cfg); err != nil {
		logger.Errorf("[api] 创建策略失败 ip=%s name=%s err=%v", c.ClientIP(), req.Name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := uow.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] 创建策略 id=%d name=%s coin=%s kind=%s enabled=%v ip=%s",
		cfg.ID, cfg.Name, cfg.Coin, cfg.Kind, cfg.Enabled, c.ClientIP())
	c.JSON(http.StatusCreated, gin.H{"strategy": newStrategyView(cfg)})
}

func (r *Router) handleStrategyUpdate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Name         *string        `json:"name"`
		Coin         *string        `json:"coin"`
		Kind         *string        `json:"kind"`
		Params       map[string]any `json:"params"`
		MaxBuyAmount *float64       `json:"max_buy_amount"`
		Enabled      *bool          `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Errorf("[api] 更新策略 bind failed ip=%s id=%d err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer uow.Rollback()

	configs := uow.Configs()
	cfg, err := configs.FindByID(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "策略不存在"})
		return
	}

	if req.Name != nil && *req.Name != cfg.Name {
		if *req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "策略名称不能为空"})
			return
		}
		other, err := configs.FindByName(ctx, *req.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if other != nil && other.ID != cfg.ID {
			c.JSON(http.StatusConflict, gin.H{"error": "策略名称已存在: " + *req.Name})
			return
		}
		cfg.Name = *req.Name
	}
	if req.Coin != nil {
		coin := symbol.NormalizeCoin(*req.Coin)
		if coin == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无法识别的币种: " + *req.Coin})
			return
		}
		cfg.Coin = coin
	}
	if req.Kind != nil {
		cfg.Kind = *req.Kind
	}
	// 参数包整体替换而不是合并，避免留下改种类后的脏键。
	if req.Params != nil {
		paramsJSON, err := json.Marshal(req.Params)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cfg.ParamsJSON = datatypes.JSON(paramsJSON)
	}
	if req.Kind != nil || req.Params != nil {
		params, err := strategy.ParseParams(cfg.ParamsJSON)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validateStrategyParams(cfg.Kind, params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.MaxBuyAmount != nil {
		cfg.MaxBuyAmount = *req.MaxBuyAmount
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if cfg.Enabled {
		if conflict, err := findEnabledDuplicate(ctx, configs, cfg.Coin, cfg.Kind, cfg.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		} else if conflict != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": "币种 " + cfg.Coin + " 已有同种类的启用策略: " + conflict.Name,
			})
			return
		}
	}

	if err := configs.Save(ctx, cfg); err != nil {
		logger.Errorf("[api] 更新策略失败 ip=%s id=%d err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := uow.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] 更新策略 id=%d name=%s ip=%s", cfg.ID, cfg.Name, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"strategy": newStrategyView(cfg)})
}

func (r *Router) handleStrategyToggle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer uow.Rollback()

	configs := uow.Configs()
	cfg, err := configs.FindByID(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "策略不存在"})
		return
	}
	next := !cfg.Enabled
	if next {
		if conflict, err := findEnabledDuplicate(ctx, configs, cfg.Coin, cfg.Kind, cfg.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		} else if conflict != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": "币种 " + cfg.Coin + " 已有同种类的启用策略: " + conflict.Name,
			})
			return
		}
	}
	if err := configs.SetEnabled(ctx, id, next); err != nil {
		logger.Errorf("[api] 切换策略失败 ip=%s id=%d err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := uow.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cfg.Enabled = next
	logger.Infof("[api] 切换策略 id=%d name=%s enabled=%v ip=%s", cfg.ID, cfg.Name, next, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"strategy": newStrategyView(cfg)})
}

func (r *Router) handleStrategyDelete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer uow.Rollback()

	configs := uow.Configs()
	cfg, err := configs.FindByID(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "策略不存在"})
		return
	}
	if err := configs.Delete(ctx, id); err != nil {
		logger.Errorf("[api] 删除策略失败 ip=%s id=%d err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := uow.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] 删除策略 id=%d name=%s ip=%s", id, cfg.Name, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// findEnabledDuplicate 返回同币种同种类的另一条启用策略，selfID 用于更新时排除自己。
func findEnabledDuplicate(ctx context.Context, configs store.ConfigRepository, coin, kind string, selfID int64) (*model.StrategyConfigModel, error) {
	enabled, err := configs.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	for i := range enabled {
		if enabled[i].ID == selfID {
			continue
		}
		if enabled[i].Coin == coin && enabled[i].Kind == kind {
			return &enabled[i], nil
		}
	}
	return nil, nil
}
