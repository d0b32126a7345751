package app

import (
	"context"
	"fmt"

	"maru/internal/backtest"
	"maru/internal/config"
	"maru/internal/logger"
	"maru/internal/registry"
	"maru/internal/store"
	"maru/internal/trader"
	apihttp "maru/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：装配依赖→启动 HTTP 服务与交易循环→退出时统一收尾。
type App struct {
	cfg      *config.Config
	store    store.Store
	history  *backtest.History
	gateway  Gateway
	registry *registry.Registry
	trader   *trader.Trader
	backtest *backtest.Service
	http     *apihttp.Server
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务与交易循环，直到 ctx 取消或任一侧出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.trader == nil || a.http == nil {
		return fmt.Errorf("app not initialized")
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.backtest != nil {
		// 后台回测任务随整个应用一起取消。
		a.backtest.SetContext(ctx)
	}

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		a.trader.Run(ctx)
		return nil
	})

	err := group.Wait()
	a.Close()
	return err
}

// Close 释放K线仓库与存储句柄。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logger.Warnf("[app] 关闭K线仓库失败 err=%v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("[app] 关闭存储失败 err=%v", err)
		}
	}
}

// Trader exposes the trading loop instance (for testing/replay harnesses).
func (a *App) Trader() *trader.Trader {
	if a == nil {
		return nil
	}
	return a.trader
}
