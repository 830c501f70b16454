package backtest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis/internal/market"
)

// gridSource 对任意请求区间按周期网格生成确定性 K 线。
type gridSource struct {
	step  int64
	calls atomic.Int64
}

func (g *gridSource) Name() string { return "grid" }

func (g *gridSource) Fetch(_ context.Context, req FetchRequest) ([]market.Candle, error) {
	g.calls.Add(1)
	var out []market.Candle
	for ts := req.Start; ts <= req.End && len(out) < req.Limit; ts += g.step {
		out = append(out, market.Candle{
			OpenTime:  ts,
			CloseTime: ts + g.step - 1,
			Open:      100, High: 101, Low: 99, Close: 100.5,
			Volume: 1000, Trades: 10,
		})
	}
	return out, nil
}

func newTestService(t *testing.T, src CandleSource) (*Service, *Store) {
	t.Helper()
	store := newTestStore(t)
	svc, err := NewService(ServiceConfig{
		Store:           store,
		Sources:         map[string]CandleSource{"grid": src},
		DefaultExchange: "grid",
		RateLimitPerMin: 6000,
		MaxBatch:        500,
	})
	require.NoError(t, err)
	return svc, store
}

func waitForJob(t *testing.T, svc *Service, id string) FetchJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := svc.JobSnapshot(id)
		require.True(t, ok)
		switch job.Status {
		case JobStatusDone, JobStatusPartial, JobStatusFailed:
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("任务 %s 未在超时前结束", id)
	return FetchJob{}
}

func TestSubmitFetchFillsGaps(t *testing.T) {
	step := int64(60_000)
	src := &gridSource{step: step}
	svc, store := newTestService(t, src)

	start := step
	end := step * 40
	job, err := svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1m", Start: start, End: end})
	require.NoError(t, err)

	final := waitForJob(t, svc, job.ID)
	assert.Equal(t, JobStatusDone, final.Status)
	assert.Empty(t, final.Missing)

	tf, _ := market.ParseTimeframe("1m")
	report, err := store.CheckIntegrity(context.Background(), "BTCUSDT", "1m", tf, start, end)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Positive(t, src.calls.Load())
}

func TestSubmitFetchSkipsCompleteRange(t *testing.T) {
	step := int64(60_000)
	src := &gridSource{step: step}
	svc, store := newTestService(t, src)

	candles := gridCandles(step, step, 20)
	_, err := store.InsertCandles(context.Background(), "BTCUSDT", "1m", candles)
	require.NoError(t, err)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol: "BTCUSDT", Timeframe: "1m",
		Start: candles[0].OpenTime, End: candles[19].OpenTime,
	})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Zero(t, src.calls.Load())
}

func TestSubmitFetchRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t, &gridSource{step: 60_000})

	_, err := svc.SubmitFetch(FetchParams{Timeframe: "1m", Start: 1, End: 2})
	assert.Error(t, err)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "13m", Start: 1, End: 2})
	assert.Error(t, err)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1m", Exchange: "nope", Start: 60_000, End: 120_000})
	assert.Error(t, err)
}
