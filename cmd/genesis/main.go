package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"genesis/internal/app"
	"genesis/internal/backtest"
	"genesis/internal/config"
	"genesis/internal/logger"
	"genesis/internal/probability"
	"genesis/internal/sweep"
)

func main() {
	var (
		cfgPath   = flag.String("config", "configs/config.yaml", "配置文件路径")
		mode      = flag.String("mode", "serve", "运行模式: serve | replay | sweep")
		logPath   = flag.String("log", "", "日志文件路径（留空仅输出到 stdout）")
		symbol    = flag.String("symbol", "", "replay/sweep: 交易对，如 BTCUSDT")
		timeframe = flag.String("timeframe", "", "replay: 执行周期，如 1m")
		start     = flag.Int64("start", 0, "replay/sweep: 起始毫秒时间戳")
		end       = flag.Int64("end", 0, "replay/sweep: 结束毫秒时间戳")
		sweepSpec = flag.String("spec", "", "sweep: 扫描描述文件路径")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(*logPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.LogLevel)
	logger.Infof("✓ 配置加载成功（hash=%s）", cfg.Hash()[:12])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "serve":
		runServe(ctx, cfg, *cfgPath)
	case "replay":
		runReplay(ctx, cfg, *symbol, *timeframe, *start, *end)
	case "sweep":
		runSweep(ctx, cfg, *cfgPath, *sweepSpec, *symbol, *start, *end)
	default:
		log.Fatalf("未知模式: %s", *mode)
	}
}

func runServe(ctx context.Context, cfg *config.Config, cfgPath string) {
	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer a.Close()

	// 热更新只影响后续提交的 run；进行中的 run 持有配置快照。
	watcher := config.NewWatcher(cfgPath)
	watcher.OnChange(func(next *config.Config) {
		logger.SetLevel(next.LogLevel)
		logger.Infof("配置已热更新（hash=%s）", next.Hash()[:12])
	})
	if err := watcher.Start(); err != nil {
		logger.Warnf("配置监听启动失败: %v", err)
	} else {
		defer watcher.Close()
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func runReplay(ctx context.Context, cfg *config.Config, symbol, timeframe string, start, end int64) {
	if symbol == "" || timeframe == "" || start <= 0 || end <= 0 {
		log.Fatalf("replay 模式需要 -symbol -timeframe -start -end")
	}
	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer a.Close()

	run, err := a.Runner().RunOnce(ctx, backtest.RunRequest{
		Symbol:    symbol,
		Timeframe: timeframe,
		Start:     start,
		End:       end,
	})
	if err != nil {
		log.Fatalf("回放失败: %v", err)
	}
	logger.Infof("回放完成：run=%s trades=%d win_rate=%.3f return=%.4f report=%s",
		run.ID, run.Trades, run.WinRate, run.TotalReturn, run.ReportPath)
}

func runSweep(ctx context.Context, cfg *config.Config, cfgPath, specPath, symbol string, start, end int64) {
	if specPath == "" || symbol == "" || start <= 0 || end <= 0 {
		log.Fatalf("sweep 模式需要 -spec -symbol -start -end")
	}
	spec, err := sweep.LoadSpec(specPath)
	if err != nil {
		log.Fatalf("读取扫描描述失败: %v", err)
	}
	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer a.Close()

	candles, err := a.Service().RangeCandles(ctx, symbol, spec.Timeframe, start, end)
	if err != nil {
		log.Fatalf("读取 K 线失败: %v", err)
	}

	factory := func() (probability.Provider, error) {
		if cfg.Data.ModelWeights == "" {
			return &probability.Static{}, nil
		}
		model, err := probability.LoadLogistic(cfg.Data.ModelWeights)
		if err != nil {
			return nil, err
		}
		return model, nil
	}
	results, err := sweep.NewRunner(cfgPath, factory, nil).Run(ctx, spec, candles)
	if err != nil {
		log.Fatalf("扫描失败: %v", err)
	}
	for _, res := range results {
		if res.Err != "" {
			logger.Warnf("trial %s 失败: %s", res.Name, res.Err)
			continue
		}
		logger.Infof("trial %s：hash=%s trades=%d win_rate=%.3f return=%.4f",
			res.Name, res.ConfigHash[:12], res.Artifact.Stats.Trades,
			res.Artifact.Stats.WinRate, res.Artifact.Stats.TotalReturn)
	}
	out, err := json.MarshalIndent(summaries(results), "", "  ")
	if err == nil {
		fmt.Println(string(out))
	}
}

type trialSummary struct {
	Name        string  `json:"name"`
	ConfigHash  string  `json:"config_hash,omitempty"`
	Err         string  `json:"error,omitempty"`
	Trades      int     `json:"trades"`
	WinRate     float64 `json:"win_rate"`
	TotalReturn float64 `json:"total_return"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

func summaries(results []sweep.TrialResult) []trialSummary {
	out := make([]trialSummary, 0, len(results))
	for _, res := range results {
		s := trialSummary{Name: res.Name, ConfigHash: res.ConfigHash, Err: res.Err}
		if res.Artifact != nil {
			s.Trades = res.Artifact.Stats.Trades
			s.WinRate = res.Artifact.Stats.WinRate
			s.TotalReturn = res.Artifact.Stats.TotalReturn
			s.MaxDrawdown = res.Artifact.Stats.MaxDrawdown
		}
		out = append(out, s)
	}
	return out
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
