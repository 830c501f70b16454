package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis/internal/market"
)

func gridCandles(start int64, step int64, n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		ot := start + int64(i)*step
		out[i] = market.Candle{
			OpenTime:  ot,
			CloseTime: ot + step - 1,
			Open:      price,
			High:      price * 1.01,
			Low:       price * 0.99,
			Close:     price * 1.001,
			Volume:    1000,
			Trades:    10,
		}
		price *= 1.001
	}
	return out
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInsertAndRangeCandles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	step := int64(60_000)
	candles := gridCandles(step, step, 50)

	n, err := store.InsertCandles(ctx, "btcusdt", "1m", candles)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	got, err := store.RangeCandles(ctx, "btcusdt", "1m", candles[0].OpenTime, candles[49].OpenTime)
	require.NoError(t, err)
	require.Len(t, got, 50)
	assert.Equal(t, candles[0], got[0])
	assert.Equal(t, candles[49], got[49])
}

func TestInsertUpsertsOnDuplicateOpenTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	step := int64(60_000)
	candles := gridCandles(step, step, 5)

	_, err := store.InsertCandles(ctx, "ETHUSDT", "1m", candles)
	require.NoError(t, err)

	candles[2].Close = 123.45
	_, err = store.InsertCandles(ctx, "ETHUSDT", "1m", candles[2:3])
	require.NoError(t, err)

	got, err := store.RangeCandles(ctx, "ETHUSDT", "1m", candles[0].OpenTime, candles[4].OpenTime)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, 123.45, got[2].Close)
}

func TestManifestTracksRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	step := int64(60_000)
	candles := gridCandles(step, step, 12)

	_, err := store.InsertCandles(ctx, "btcusdt", "1m", candles)
	require.NoError(t, err)

	m, err := store.Manifest(ctx, "btcusdt", "1m")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.Equal(t, "1m", m.Timeframe)
	assert.Equal(t, int64(12), m.Rows)
	assert.Equal(t, candles[0].OpenTime, m.MinTime)
	assert.Equal(t, candles[11].OpenTime, m.MaxTime)
	assert.NotZero(t, m.LastSyncAt)
}

func TestCheckIntegrityFindsGaps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tf, err := market.ParseTimeframe("1m")
	require.NoError(t, err)
	step := tf.Duration.Milliseconds()
	candles := gridCandles(step, step, 20)

	// 挖掉 [5,7] 与 [15] 两段。
	partial := append([]market.Candle{}, candles[:5]...)
	partial = append(partial, candles[8:15]...)
	partial = append(partial, candles[16:]...)
	_, err = store.InsertCandles(ctx, "btcusdt", "1m", partial)
	require.NoError(t, err)

	report, err := store.CheckIntegrity(ctx, "btcusdt", "1m", tf, candles[0].OpenTime, candles[19].OpenTime)
	require.NoError(t, err)
	assert.Equal(t, int64(20), report.Expected)
	assert.Equal(t, int64(16), report.Present)
	assert.False(t, report.Complete())
	require.Len(t, report.Gaps, 2)
	assert.Equal(t, Gap{From: candles[5].OpenTime, To: candles[7].OpenTime}, report.Gaps[0])
	assert.Equal(t, Gap{From: candles[15].OpenTime, To: candles[15].OpenTime}, report.Gaps[1])
}

func TestCheckIntegrityCompleteRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tf, err := market.ParseTimeframe("5m")
	require.NoError(t, err)
	step := tf.Duration.Milliseconds()
	candles := gridCandles(step, step, 10)

	_, err = store.InsertCandles(ctx, "btcusdt", "5m", candles)
	require.NoError(t, err)

	report, err := store.CheckIntegrity(ctx, "btcusdt", "5m", tf, candles[0].OpenTime, candles[9].OpenTime)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Empty(t, report.Gaps)
}

func TestQueryCandlesTailWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	step := int64(60_000)
	candles := gridCandles(step, step, 30)

	_, err := store.InsertCandles(ctx, "btcusdt", "1m", candles)
	require.NoError(t, err)

	// 只给 end：从尾部取 limit 条，结果仍为升序。
	got, err := store.QueryCandles(ctx, "btcusdt", "1m", 0, candles[29].OpenTime, 10)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, candles[20].OpenTime, got[0].OpenTime)
	assert.Equal(t, candles[29].OpenTime, got[9].OpenTime)
}

func TestInsertSkipsInvalidCandles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	step := int64(60_000)
	candles := gridCandles(step, step, 3)
	candles[1].High = candles[1].Low - 1 // 非法区间

	n, err := store.InsertCandles(ctx, "btcusdt", "1m", candles)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
