package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"genesis/internal/config"
	"genesis/internal/logger"
	"genesis/internal/market"
	"genesis/internal/probability"
	"genesis/internal/replay"
	"genesis/internal/report"

	"github.com/google/uuid"
)

// ProviderFactory 为每次 run 构造一个独立的概率模型实例。
type ProviderFactory func() (probability.Provider, error)

// RunnerConfig 配置 Runner。
type RunnerConfig struct {
	Store         *Store
	Results       *ResultStore
	Config        *config.Config
	Provider      ProviderFactory
	ReportRoot    string
	MaxConcurrent int
}

// Runner 把三件事串成一次回放任务：从本地库取 K 线、跑回放引擎、
// 落库产物并生成报表。
type Runner struct {
	store      *Store
	results    *ResultStore
	cfg        *config.Config
	provider   ProviderFactory
	reportRoot string
	log        *logger.Scoped

	sem chan struct{}

	mu      sync.RWMutex
	baseCtx context.Context
}

func NewRunner(rc RunnerConfig) (*Runner, error) {
	if rc.Store == nil || rc.Results == nil {
		return nil, fmt.Errorf("store/results 不能为空")
	}
	if rc.Config == nil {
		return nil, fmt.Errorf("config 不能为空")
	}
	if rc.Provider == nil {
		return nil, fmt.Errorf("provider factory 不能为空")
	}
	maxConcurrent := rc.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		store:      rc.Store,
		results:    rc.Results,
		cfg:        rc.Config,
		provider:   rc.Provider,
		reportRoot: rc.ReportRoot,
		log:        logger.WithScope("runner"),
		sem:        make(chan struct{}, maxConcurrent),
		baseCtx:    context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (r *Runner) SetContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()
}

func (r *Runner) ctx() context.Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseCtx
}

func validateRunRequest(req RunRequest) (market.Timeframe, error) {
	if req.Symbol == "" {
		return market.Timeframe{}, fmt.Errorf("symbol 不能为空")
	}
	tf, err := market.ParseTimeframe(req.Timeframe)
	if err != nil {
		return market.Timeframe{}, err
	}
	if req.Start <= 0 || req.End <= 0 || req.End <= req.Start {
		return market.Timeframe{}, fmt.Errorf("start/end 需要构成正区间")
	}
	return tf, nil
}

// Submit 异步提交一次回放；返回 pending 状态的 run 概览。
func (r *Runner) Submit(req RunRequest) (Run, error) {
	tf, err := validateRunRequest(req)
	if err != nil {
		return Run{}, err
	}
	start, end := tf.AlignRange(req.Start, req.End)
	now := time.Now()
	run := Run{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Timeframe: tf.Key,
		Status:    RunStatusPending,
		StartTS:   start,
		EndTS:     end,
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.results.InsertRun(r.ctx(), run); err != nil {
		return Run{}, err
	}
	r.log.Infof("回放 %s 提交：%s %s [%d,%d]", run.ID, run.Symbol, run.Timeframe, start, end)
	go r.execute(run)
	return run, nil
}

// RunOnce 同步执行一次回放，CLI 模式使用。
func (r *Runner) RunOnce(ctx context.Context, req RunRequest) (Run, error) {
	tf, err := validateRunRequest(req)
	if err != nil {
		return Run{}, err
	}
	start, end := tf.AlignRange(req.Start, req.End)
	now := time.Now()
	run := Run{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Timeframe: tf.Key,
		Status:    RunStatusRunning,
		StartTS:   start,
		EndTS:     end,
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.results.InsertRun(ctx, run); err != nil {
		return Run{}, err
	}
	return r.perform(ctx, run)
}

func (r *Runner) execute(run Run) {
	ctx := r.ctx()
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		r.fail(run, "服务已关闭")
		return
	}
	defer func() { <-r.sem }()

	run.Status = RunStatusRunning
	run.UpdatedAt = time.Now()
	if err := r.results.UpdateRun(ctx, run); err != nil {
		r.log.Warnf("回放 %s 状态更新失败: %v", run.ID, err)
	}
	if _, err := r.perform(ctx, run); err != nil {
		r.log.Errorf("回放 %s 失败: %v", run.ID, err)
	}
}

// perform 做真正的工作；出错时把 run 标记为 failed 后原样返回错误。
func (r *Runner) perform(ctx context.Context, run Run) (Run, error) {
	candles, err := r.store.RangeCandles(ctx, run.Symbol, run.Timeframe, run.StartTS, run.EndTS)
	if err != nil {
		return r.fail(run, fmt.Sprintf("读取 K 线失败: %v", err))
	}
	if err := market.ValidateSeries(candles); err != nil {
		return r.fail(run, fmt.Sprintf("K 线序列非法: %v", err))
	}
	provider, err := r.provider()
	if err != nil {
		return r.fail(run, fmt.Sprintf("构造概率模型失败: %v", err))
	}
	engine := replay.NewEngine(r.cfg, provider, logger.WithScope("replay."+run.ID[:8]))
	artifact, err := engine.Run(ctx, candles, run.Timeframe)
	if err != nil {
		return r.fail(run, fmt.Sprintf("回放失败: %v", err))
	}

	run.applyArtifact(artifact)
	if r.reportRoot != "" {
		title := fmt.Sprintf("%s %s [%d,%d]", run.Symbol, run.Timeframe, run.StartTS, run.EndTS)
		path, err := report.Write(r.reportRoot, run.ID, title, artifact)
		if err != nil {
			r.log.Warnf("回放 %s 报表生成失败: %v", run.ID, err)
		} else {
			run.ReportPath = path
		}
	}
	run.Status = RunStatusDone
	run.Message = ""
	run.CompletedAt = time.Now()
	run.UpdatedAt = run.CompletedAt
	if err := r.results.UpdateRun(ctx, run); err != nil {
		return Run{}, err
	}
	r.log.Infof("回放 %s 完成：trades=%d win_rate=%.3f return=%.4f", run.ID, run.Trades, run.WinRate, run.TotalReturn)
	return run, nil
}

func (r *Runner) fail(run Run, message string) (Run, error) {
	run.Status = RunStatusFailed
	run.Message = message
	run.UpdatedAt = time.Now()
	if err := r.results.UpdateRun(r.ctx(), run); err != nil {
		r.log.Warnf("回放 %s 失败状态落库失败: %v", run.ID, err)
	}
	return run, fmt.Errorf("%s", message)
}

// GetRun 读取 run（含 artifact）。
func (r *Runner) GetRun(ctx context.Context, id string, withArtifact bool) (Run, error) {
	return r.results.GetRun(ctx, id, withArtifact)
}

// ListRuns 返回 run 概览列表。
func (r *Runner) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return r.results.ListRuns(ctx, limit)
}

// DeleteRun 删除一条 run 记录。
func (r *Runner) DeleteRun(ctx context.Context, id string) error {
	return r.results.DeleteRun(ctx, id)
}
