package sweep

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"genesis/internal/config"
	"genesis/internal/logger"
	"genesis/internal/market"
	"genesis/internal/probability"
	"genesis/internal/replay"
)

// ProviderFactory 为每个 trial 构造独立的概率模型实例。
// 模型可能带有内部游标（如 Static），跨 trial 共享会破坏确定性。
type ProviderFactory func() (probability.Provider, error)

// TrialResult 为单个 trial 的结果。Err 非空时 Artifact 为 nil。
type TrialResult struct {
	Name       string           `json:"name"`
	ConfigHash string           `json:"config_hash"`
	Artifact   *replay.Artifact `json:"artifact,omitempty"`
	Err        string           `json:"error,omitempty"`
}

// Runner 并发执行参数扫描。每个 trial 持有独立的配置、独立的
// 回放引擎与独立的特征缓存；结果按 spec 中的 trial 顺序返回，
// 与调度顺序无关。
type Runner struct {
	basePath string
	factory  ProviderFactory
	log      *logger.Scoped
}

// NewRunner 构造扫描执行器。basePath 为基础配置文件路径。
func NewRunner(basePath string, factory ProviderFactory, log *logger.Scoped) *Runner {
	if log == nil {
		log = logger.WithScope("sweep")
	}
	return &Runner{basePath: basePath, factory: factory, log: log}
}

// Run 执行全部 trial。单个 trial 失败记录在其结果里，不拖垮
// 其余 trial；只有 ctx 取消会中断整体执行。
func (r *Runner) Run(ctx context.Context, spec *Spec, candles []market.Candle) ([]TrialResult, error) {
	if err := market.ValidateSeries(candles); err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	limit := spec.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	results := make([]TrialResult, len(spec.Trials))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, trial := range spec.Trials {
		i, trial := i, trial
		g.Go(func() error {
			res := r.runTrial(gctx, trial, spec.Timeframe, candles)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) runTrial(ctx context.Context, trial Trial, timeframe string, candles []market.Candle) TrialResult {
	res := TrialResult{Name: trial.Name}

	cfg, err := config.LoadWithOverrides(r.basePath, trial.Overrides)
	if err != nil {
		res.Err = fmt.Sprintf("config: %v", err)
		r.log.Warnf("trial=%s 配置无效: %v", trial.Name, err)
		return res
	}
	res.ConfigHash = cfg.Hash()

	provider, err := r.factory()
	if err != nil {
		res.Err = fmt.Sprintf("provider: %v", err)
		return res
	}

	art, err := replay.NewEngine(cfg, provider, logger.WithScope("sweep."+trial.Name)).
		Run(ctx, candles, timeframe)
	if err != nil {
		res.Err = err.Error()
		r.log.Warnf("trial=%s 回放失败: %v", trial.Name, err)
		return res
	}
	res.Artifact = art
	r.log.Infof("trial=%s 完成: trades=%d return=%.4f", trial.Name, art.Stats.Trades, art.Stats.TotalReturn)
	return res
}
