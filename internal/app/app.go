package app

import (
	"context"
	"fmt"

	"genesis/internal/backtest"
	"genesis/internal/config"
	"genesis/internal/logger"
	replayhttp "genesis/internal/transport/http/replay"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：装配依赖、启动数据服务与 HTTP、释放资源。
type App struct {
	cfg     *config.Config
	store   *backtest.Store
	results *backtest.ResultStore
	svc     *backtest.Service
	runner  *backtest.Runner
	server  *replayhttp.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.LogLevel)
	return buildAppWithWire(cfg)
}

// Runner 暴露回放 runner，CLI 模式直接调用。
func (a *App) Runner() *backtest.Runner {
	if a == nil {
		return nil
	}
	return a.runner
}

// Service 暴露数据服务。
func (a *App) Service() *backtest.Service {
	if a == nil {
		return nil
	}
	return a.svc
}

// Run 以服务模式运行：绑定 ctx、起 HTTP，阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.svc.SetContext(ctx)
	a.runner.SetContext(ctx)

	if a.server == nil {
		return fmt.Errorf("http 未启用，serve 模式需要 http.enabled=true")
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	logger.Infof("服务启动：addr=%s candle_root=%s", a.cfg.HTTP.Addr, a.cfg.Data.CandleRoot)
	return group.Wait()
}

// Close 释放存储资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.results != nil {
		_ = a.results.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
