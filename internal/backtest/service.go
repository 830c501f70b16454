package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"genesis/internal/logger"
	"genesis/internal/market"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ServiceConfig 配置 Service。
type ServiceConfig struct {
	Store           *Store
	Sources         map[string]CandleSource
	DefaultExchange string
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

// Service 管理补数任务：完整性检查、限速拉取、写库。
// 任务状态只存内存，进程重启后通过重新提交恢复。
type Service struct {
	store           *Store
	sources         map[string]CandleSource
	defaultExchange string
	maxBatch        int
	log             *logger.Scoped

	limiter *rate.Limiter
	sem     chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("至少需要一个数据源")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	svc := &Service{
		store:           cfg.Store,
		sources:         make(map[string]CandleSource, len(cfg.Sources)),
		defaultExchange: strings.ToLower(cfg.DefaultExchange),
		maxBatch:        maxBatch,
		log:             logger.WithScope("data"),
		limiter:         rate.NewLimiter(ratePerSec, maxBatch),
		sem:             make(chan struct{}, maxConcurrent),
		jobs:            make(map[string]*FetchJob),
		baseCtx:         context.Background(),
	}
	for name, src := range cfg.Sources {
		svc.sources[strings.ToLower(name)] = src
	}
	if svc.defaultExchange == "" {
		for name := range svc.sources {
			svc.defaultExchange = name
			break
		}
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

func (s *Service) resolveSource(exchange string) (CandleSource, error) {
	if exchange == "" {
		exchange = s.defaultExchange
	}
	src := s.sources[strings.ToLower(exchange)]
	if src == nil {
		return nil, fmt.Errorf("未知数据源: %s", exchange)
	}
	return src, nil
}

// SubmitFetch 提交补数任务；若区间已完整则只做一致性检查并立即完成。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol 不能为空")
	}
	tf, err := market.ParseTimeframe(params.Timeframe)
	if err != nil {
		return FetchJob{}, err
	}
	src, err := s.resolveSource(params.Exchange)
	if err != nil {
		return FetchJob{}, err
	}
	params.Start, params.End = tf.AlignRange(params.Start, params.End)
	if params.Start == params.End {
		return FetchJob{}, fmt.Errorf("start 与 end 需要构成区间")
	}

	report, err := s.store.CheckIntegrity(s.ctx(), params.Symbol, params.Timeframe, tf, params.Start, params.End)
	if err != nil {
		return FetchJob{}, err
	}
	completed := report.Present
	if completed > report.Expected {
		completed = report.Expected
	}
	now := time.Now()
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     report.Expected,
		Completed: completed,
		StartedAt: now,
		UpdatedAt: now,
		Missing:   append([]Gap{}, report.Gaps...),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	s.log.Infof("任务 %s 提交：%s %s [%d,%d] 预计=%d 缺口=%d",
		job.ID, params.Symbol, params.Timeframe, params.Start, params.End, report.Expected, len(report.Gaps))

	if report.Expected == 0 || report.Complete() {
		s.setJobStatus(job.ID, JobStatusDone, "数据已完整，无需重新拉取", report.Gaps)
		return job.copy(), nil
	}

	go s.runJob(job.ID, params, tf, report.Gaps, src)
	return job.copy(), nil
}

func (s *Service) runJob(jobID string, params FetchParams, tf market.Timeframe, gaps []Gap, src CandleSource) {
	ctx := s.ctx()
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.setJobStatus(jobID, JobStatusFailed, "服务已关闭", nil)
		return
	}
	defer func() { <-s.sem }()

	s.log.Infof("任务 %s 开始，缺口=%d", jobID, len(gaps))
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})

	var warnings []string
	for _, gap := range gaps {
		warning, err := s.fillGap(ctx, jobID, params, tf, gap, src)
		if err != nil {
			s.setJobStatus(jobID, JobStatusFailed, err.Error(), nil)
			return
		}
		if warning != "" {
			warnings = append(warnings, warning)
		}
	}
	s.finishJob(ctx, jobID, params, tf, warnings)
}

// fillGap 逐批拉取并写入单个缺口。返回非空 warning 表示数据源在
// 该缺口内给不出更多数据（缺口保留，任务继续）。
func (s *Service) fillGap(ctx context.Context, jobID string, params FetchParams, tf market.Timeframe, gap Gap, src CandleSource) (string, error) {
	step := tf.Duration.Milliseconds()
	cursor := gap.From
	for cursor <= gap.To {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}
		batch := int((gap.To-cursor)/step) + 1
		if batch > s.maxBatch {
			batch = s.maxBatch
		}
		data, err := src.Fetch(ctx, FetchRequest{
			Symbol:   params.Symbol,
			Interval: tf.SourceInterval,
			Start:    cursor,
			End:      gap.To,
			Limit:    batch,
		})
		if err != nil {
			return "", fmt.Errorf("%s 拉取失败: %w", src.Name(), err)
		}
		if len(data) == 0 {
			return fmt.Sprintf("区间 [%d,%d] 拉取为空", cursor, gap.To), nil
		}
		inserted, err := s.store.InsertCandles(ctx, params.Symbol, params.Timeframe, data)
		if err != nil {
			return "", fmt.Errorf("写入失败: %w", err)
		}
		next := data[len(data)-1].OpenTime + step
		if next <= cursor {
			return fmt.Sprintf("数据源在 %d 处未推进游标", cursor), nil
		}
		cursor = next
		s.updateJob(jobID, func(j *FetchJob) {
			j.Completed += int64(inserted)
			j.UpdatedAt = time.Now()
		})
		if inserted == 0 {
			return fmt.Sprintf("区间 [%d,%d] 拉取结果全部无效", cursor, gap.To), nil
		}
	}
	return "", nil
}

// finishJob 复查完整性并定稿任务状态。
func (s *Service) finishJob(ctx context.Context, jobID string, params FetchParams, tf market.Timeframe, warnings []string) {
	report, err := s.store.CheckIntegrity(ctx, params.Symbol, params.Timeframe, tf, params.Start, params.End)
	status, message := JobStatusDone, "拉取完成"
	switch {
	case err != nil:
		status = JobStatusFailed
		message = "完整性检查失败: " + err.Error()
	case !report.Complete():
		status = JobStatusPartial
		message = "已完成，但仍存在缺口"
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, report.Gaps...)
		j.Warnings = append([]string(nil), warnings...)
		j.UpdatedAt = time.Now()
	})
	s.log.Infof("任务 %s 完成，状态=%s，缺口=%d", jobID, status, len(report.Gaps))
}

func (s *Service) setJobStatus(jobID, status, message string, gaps []Gap) {
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, gaps...)
		j.UpdatedAt = time.Now()
	})
}

func (s *Service) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// JobSnapshot 返回任务副本。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 返回所有任务的拷贝列表。
func (s *Service) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	return out
}

// ManifestInfo 读取本地 manifest。
func (s *Service) ManifestInfo(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	if symbol == "" || timeframe == "" {
		return Manifest{}, errors.New("symbol/timeframe 不能为空")
	}
	return s.store.Manifest(ctx, symbol, timeframe)
}

// QueryCandles 读取指定区间 K 线。
func (s *Service) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe 不能为空")
	}
	return s.store.QueryCandles(ctx, symbol, timeframe, start, end, limit)
}

// RangeCandles 返回闭区间内的完整数据集。
func (s *Service) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe 不能为空")
	}
	return s.store.RangeCandles(ctx, symbol, timeframe, start, end)
}
