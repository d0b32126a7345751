package app

import (
	"context"
	"fmt"
	"time"

	"maru/internal/backtest"
	"maru/internal/config"
	"maru/internal/engine"
	"maru/internal/gateway/bithumb"
	"maru/internal/logger"
	"maru/internal/registry"
	"maru/internal/store"
	"maru/internal/store/sqlite"
	"maru/internal/trader"
	apihttp "maru/internal/transport/http"
)

// Gateway 聚合各层对交易所客户端的要求，*bithumb.Client 完整实现。
type Gateway interface {
	trader.Gateway
	engine.Gateway
	backtest.CandleSource
}

type AppBuilder struct {
	cfg *config.Config

	storeFn   func(config.DatabaseConfig) (store.Store, error)
	historyFn func(config.DatabaseConfig) (*backtest.History, error)
	gatewayFn func(config.ExchangeConfig) (Gateway, error)
	clock     func() time.Time
}

type AppBuilderOption func(*AppBuilder)

// WithStore 用现成的存储实例替换默认的 sqlite 装配。
func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		if st != nil {
			b.storeFn = func(config.DatabaseConfig) (store.Store, error) { return st, nil }
		}
	}
}

// WithHistory 用现成的K线仓库替换默认装配。
func WithHistory(h *backtest.History) AppBuilderOption {
	return func(b *AppBuilder) {
		if h != nil {
			b.historyFn = func(config.DatabaseConfig) (*backtest.History, error) { return h, nil }
		}
	}
}

// WithGateway 替换默认的 bithumb 客户端，测试用它注入桩网关。
func WithGateway(gw Gateway) AppBuilderOption {
	return func(b *AppBuilder) {
		if gw != nil {
			b.gatewayFn = func(config.ExchangeConfig) (Gateway, error) { return gw, nil }
		}
	}
}

// WithClock 替换装配耗时统计用的时钟。
func WithClock(fn func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.clock = fn
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		storeFn:   buildSqliteStore,
		historyFn: buildCandleHistory,
		gatewayFn: buildBithumbGateway,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildSqliteStore(cfg config.DatabaseConfig) (store.Store, error) {
	return sqlite.NewSqliteStore(cfg.Path)
}

func buildCandleHistory(cfg config.DatabaseConfig) (*backtest.History, error) {
	return backtest.NewHistory(cfg.CandleDir)
}

func buildBithumbGateway(cfg config.ExchangeConfig) (Gateway, error) {
	return bithumb.NewClient(cfg)
}

// Build 按依赖顺序装配整个应用：存储→K线仓库→网关→注册表→引擎→交易循环→回测→HTTP。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)
	started := b.clock()

	st, err := b.storeFn(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	logger.Infof("✓ 存储就绪 path=%s", cfg.Database.Path)

	history, err := b.historyFn(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("初始化K线仓库失败: %w", err)
	}
	logger.Infof("✓ K线仓库就绪 dir=%s", cfg.Database.CandleDir)

	gw, err := b.gatewayFn(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}
	if gw.HasCredentials() {
		logger.Infof("✓ 交易所客户端就绪（已配置私有接口密钥）")
	} else {
		logger.Warnf("交易所客户端未配置密钥，私有接口不可用，下单走记录模式")
	}

	reg, err := b.buildRegistry(ctx, cfg, st)
	if err != nil {
		return nil, err
	}

	eng := engine.New(st, gw, cfg.Trading)
	logger.Infof("✓ 订单执行引擎就绪 enabled=%v", cfg.Trading.Enabled)

	cache := store.NewMemoryCandleCache()
	tr := trader.New(st, gw, eng, cache, cfg.Trading)
	logger.Infof("✓ 交易循环就绪 interval=%s candle=%s", cfg.Trading.Interval(), cfg.Trading.CandleInterval)

	bt, err := backtest.NewService(st, history, gw, cfg.Backtest)
	if err != nil {
		return nil, fmt.Errorf("初始化回测服务失败: %w", err)
	}
	logger.Infof("✓ 回测服务就绪 concurrent=%d trials=%d", cfg.Backtest.MaxConcurrentRuns, cfg.Backtest.Trials)

	httpSrv, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Store:    st,
		Backtest: bt,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}
	logger.Infof("✓ HTTP 服务就绪 addr=%s", httpSrv.Addr())

	logger.Infof("✓ 应用装配完成，用时 %s", b.clock().Sub(started).Round(time.Millisecond))
	return &App{
		cfg:      cfg,
		store:    st,
		history:  history,
		gateway:  gw,
		registry: reg,
		trader:   tr,
		backtest: bt,
		http:     httpSrv,
	}, nil
}

// buildRegistry 加载策略注册表并把缺失的种子写进存储。
// 注册表是可选组件，未配置路径时直接跳过。
func (b *AppBuilder) buildRegistry(ctx context.Context, cfg *config.Config, st store.Store) (*registry.Registry, error) {
	if cfg.Registry.Path == "" {
		return nil, nil
	}
	reg, err := registry.NewRegistry(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("加载策略注册表失败: %w", err)
	}
	seeded, err := reg.SeedStore(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("播种策略配置失败: %w", err)
	}
	reg.Subscribe(func(registry.Snapshot) {
		if n, err := reg.SeedStore(context.Background(), st); err != nil {
			logger.Errorf("[app] 注册表变更后播种失败 err=%v", err)
		} else if n > 0 {
			logger.Infof("[app] 注册表变更，新增 %d 条策略配置", n)
		}
	})
	logger.Infof("✓ 策略注册表就绪 path=%s seeded=%d", cfg.Registry.Path, seeded)
	return reg, nil
}
