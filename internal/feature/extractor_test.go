package feature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis/internal/config"
	"genesis/internal/market"
)

func featureTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Engine.ATRZones = config.ATRZoneConfig{Period: 14, LowPct: 0.25, HighPct: 0.75}
	cfg.Engine.Regime = config.RegimeConfig{ADXPeriod: 14, TrendPeriod: 20}
	cfg.Replay = config.ReplayConfig{
		Execution:        config.ExecutionWindow,
		FeatureCacheSize: 128,
	}
	return cfg
}

func trendingCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		next := price * (1 + 0.0003 + 0.005*math.Sin(float64(i)/7))
		out[i] = market.Candle{
			OpenTime:  int64(i+1) * 60_000,
			CloseTime: int64(i+2)*60_000 - 1,
			Open:      price,
			High:      math.Max(price, next) * 1.002,
			Low:       math.Min(price, next) * 0.998,
			Close:     next,
			Volume:    500 + 50*math.Sin(float64(i)/3),
		}
		price = next
	}
	return out
}

func TestExtractRequiresHistory(t *testing.T) {
	cfg := featureTestConfig()
	candles := trendingCandles(MinBars + 10)
	ex, err := NewExtractor(cfg, candles, nil, nil)
	require.NoError(t, err)

	_, err = ex.Extract(candles, 0, MinBars-2)
	require.Error(t, err)

	vec, err := ex.Extract(candles, 0, MinBars-1)
	require.NoError(t, err)
	require.NoError(t, vec.Validate())
	assert.ElementsMatch(t, RequiredKeys, vec.Keys())
}

func TestExtractPathEquivalenceWithinTolerance(t *testing.T) {
	candles := trendingCandles(MinBars + 100)

	slowCfg := featureTestConfig()
	slow, err := NewExtractor(slowCfg, candles, nil, nil)
	require.NoError(t, err)

	fastCfg := featureTestConfig()
	fastCfg.Replay.Execution = config.ExecutionPrecomputed
	table, err := BuildTable(candles, fastCfg)
	require.NoError(t, err)
	fast, err := NewExtractor(fastCfg, candles, table, nil)
	require.NoError(t, err)
	require.Equal(t, config.ExecutionPrecomputed, fast.Mode())

	for i := MinBars - 1; i < len(candles); i += 7 {
		sv, err := slow.Extract(candles, 0, i)
		require.NoError(t, err, "bar %d", i)
		fv, err := fast.Extract(candles, 0, i)
		require.NoError(t, err, "bar %d", i)

		for _, key := range RequiredKeys {
			diff := math.Abs(sv[key] - fv[key])
			scale := math.Max(1, math.Abs(sv[key]))
			assert.LessOrEqual(t, diff/scale, EquivalenceTol,
				"bar %d key %s: slow=%v fast=%v", i, key, sv[key], fv[key])
		}
	}
}

func TestExtractCacheHitReturnsEqualVector(t *testing.T) {
	cfg := featureTestConfig()
	candles := trendingCandles(MinBars + 20)
	ex, err := NewExtractor(cfg, candles, nil, nil)
	require.NoError(t, err)

	idx := MinBars + 5
	a, err := ex.Extract(candles, 0, idx)
	require.NoError(t, err)
	b, err := ex.Extract(candles, 0, idx)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	hits, misses := ex.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	// 缓存命中返回拷贝：改写结果不得污染缓存。
	b[KeyRSI] = -999
	c, err := ex.Extract(candles, 0, idx)
	require.NoError(t, err)
	assert.Equal(t, a[KeyRSI], c[KeyRSI])
}

func TestExtractCacheDistinguishesWindowContent(t *testing.T) {
	cfg := featureTestConfig()
	candles := trendingCandles(MinBars + 20)
	ex, err := NewExtractor(cfg, candles, nil, nil)
	require.NoError(t, err)

	idx := MinBars + 5
	a, err := ex.Extract(candles, 0, idx)
	require.NoError(t, err)

	// 同一 bar 下标、不同历史内容：不得命中同一条缓存。
	altered := append([]market.Candle(nil), candles...)
	altered[idx].Close *= 1.01
	altered[idx].High *= 1.01
	b, err := ex.Extract(altered, 0, idx)
	require.NoError(t, err)
	assert.NotEqual(t, a[KeyClose], b[KeyClose])
}

func TestStrictModeRejectsMisalignedTable(t *testing.T) {
	candles := trendingCandles(MinBars + 50)
	cfg := featureTestConfig()
	cfg.Replay.Execution = config.ExecutionPrecomputed
	cfg.Replay.StrictMode = true

	// 表与序列不同源：严格模式下初始化即失败。
	other := trendingCandles(MinBars + 30)
	table, err := BuildTable(other, cfg)
	require.NoError(t, err)

	_, err = NewExtractor(cfg, candles, table, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTableMissing)
}

func TestNonStrictFallsBackToWindow(t *testing.T) {
	candles := trendingCandles(MinBars + 50)
	cfg := featureTestConfig()
	cfg.Replay.Execution = config.ExecutionPrecomputed
	cfg.Replay.StrictMode = false

	ex, err := NewExtractor(cfg, candles, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.ExecutionWindow, ex.Mode())

	vec, err := ex.Extract(candles, 0, MinBars+10)
	require.NoError(t, err)
	require.NoError(t, vec.Validate())
}

func TestGlobalIndexRemapOnSubSlice(t *testing.T) {
	candles := trendingCandles(MinBars + 80)
	cfg := featureTestConfig()
	cfg.Replay.Execution = config.ExecutionPrecomputed
	table, err := BuildTable(candles, cfg)
	require.NoError(t, err)
	ex, err := NewExtractor(cfg, candles, table, nil)
	require.NoError(t, err)

	globalIdx := MinBars + 40

	full, err := ex.Extract(candles, 0, globalIdx)
	require.NoError(t, err)

	// 子切片 + globalStart 的显式重映射必须取到同一行表数据。
	start := 30
	sub, err := ex.Extract(candles[start:], start, globalIdx-start)
	require.NoError(t, err)
	assert.Equal(t, full, sub)
}

func TestVectorValidateNamesField(t *testing.T) {
	v := Vector{}
	for _, k := range RequiredKeys {
		v[k] = 1
	}
	require.NoError(t, v.Validate())

	v[KeyADX] = math.Inf(1)
	err := v.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyADX)

	delete(v, KeyADX)
	err = v.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyADX)
}
