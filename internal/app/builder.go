package app

import (
	"fmt"

	"genesis/internal/backtest"
	"genesis/internal/config"
	"genesis/internal/probability"
	replayhttp "genesis/internal/transport/http/replay"
)

// AppBuilder 按依赖顺序装配应用：存储 → 数据服务 → 回放 runner → HTTP。
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

// providerFactory 根据配置决定概率模型来源。未配置权重时退化为
// 中性概率（p_buy=p_sell=0.5），所有入场都会被 EV gate 拦下，
// 适合只想跑数据管线的场景。
func (b *AppBuilder) providerFactory() backtest.ProviderFactory {
	weights := b.cfg.Data.ModelWeights
	if weights == "" {
		return func() (probability.Provider, error) {
			return &probability.Static{}, nil
		}
	}
	return func() (probability.Provider, error) {
		model, err := probability.LoadLogistic(weights)
		if err != nil {
			return nil, err
		}
		return model, nil
	}
}

// Build 装配全部组件（不启动任何服务）。
func (b *AppBuilder) Build() (*App, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	store, err := backtest.NewStore(cfg.Data.CandleRoot)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	results, err := backtest.NewResultStore(cfg.Data.ResultRoot)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}

	svc, err := backtest.NewService(backtest.ServiceConfig{
		Store: store,
		Sources: map[string]backtest.CandleSource{
			"binance": backtest.NewBinanceSource(""),
		},
		DefaultExchange: "binance",
	})
	if err != nil {
		_ = results.Close()
		_ = store.Close()
		return nil, fmt.Errorf("初始化数据服务失败: %w", err)
	}

	runner, err := backtest.NewRunner(backtest.RunnerConfig{
		Store:      store,
		Results:    results,
		Config:     cfg,
		Provider:   b.providerFactory(),
		ReportRoot: cfg.Data.ResultRoot,
	})
	if err != nil {
		_ = results.Close()
		_ = store.Close()
		return nil, fmt.Errorf("初始化回放 runner 失败: %w", err)
	}

	app := &App{
		cfg:     cfg,
		store:   store,
		results: results,
		svc:     svc,
		runner:  runner,
	}
	if cfg.HTTP.Enabled {
		server, err := replayhttp.NewServer(replayhttp.Config{
			Addr:   cfg.HTTP.Addr,
			Svc:    svc,
			Runner: runner,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
		}
		app.server = server
	}
	return app, nil
}
