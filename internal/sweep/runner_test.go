package sweep

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis/internal/market"
	"genesis/internal/probability"
)

const baseConfigYAML = `
log_level: error
engine:
  max_position: 1.0
  ev:
    payoff_ratio: 2.0
    cost_bps: 10
  atr_zones:
    period: 14
    low_pct: 0.25
    high_pct: 0.75
  thresholds:
    by_regime:
      bull: {low: 0.55, mid: 0.58, high: 0.62}
      bear: {low: 0.55, mid: 0.58, high: 0.62}
      ranging: {low: 0.55, mid: 0.58, high: 0.62}
      balanced: {low: 0.55, mid: 0.58, high: 0.62}
  signal:
    hysteresis_steps: 2
    cooldown_bars: 5
    min_edge: 0.005
  regime:
    hysteresis_bars: 3
    trend_period: 20
    adx_period: 14
    bull_slope: 0.0005
    bear_slope: -0.0005
    ranging_adx: 20
  confidence:
    volume_ratio_cap: 1.0
    floors:
      bull: 0.05
      bear: 0.05
      ranging: 0.05
      balanced: 0.05
  fibonacci:
    htf:
      timeframe: 15m
      swing_lookback: 40
      tolerance_atr: 5.0
      missing_policy: pass
    ltf:
      timeframe: 1m
      swing_lookback: 60
      tolerance_atr: 5.0
      missing_policy: pass
  risk_map:
    - {min_confidence: 0.0, size: 0.25}
    - {min_confidence: 0.3, size: 0.5}
  exits:
    stop_loss_pct: 0.02
    take_profit_pct: 0.03
    max_hold_bars: 30
replay:
  execution: window
  max_error_rate: 0.05
  min_bars_for_rate: 50
  feature_cache_size: 256
`

const sweepSpecYAML = `
name: edge-sweep
timeframe: 1m
parallelism: 2
trials:
  - name: loose
    overrides:
      engine:
        signal:
          min_edge: 0.001
  - name: tight
    overrides:
      engine:
        signal:
          min_edge: 0.05
  - name: broken
    overrides:
      engine:
        thresholds:
          entry: 0.6
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func sweepCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		next := price * (1 + 0.0002 + 0.004*math.Sin(float64(i)/9))
		out[i] = market.Candle{
			OpenTime:  int64(i+1) * 60_000,
			CloseTime: int64(i+2)*60_000 - 1,
			Open:      price,
			High:      math.Max(price, next) * 1.003,
			Low:       math.Min(price, next) * 0.997,
			Close:     next,
			Volume:    1000,
		}
		price = next
	}
	return out
}

type longProvider struct{}

func (longProvider) Name() string { return "long" }
func (longProvider) Predict(map[string]float64) (probability.Pair, error) {
	return probability.Pair{Buy: 0.7, Sell: 0.3}, nil
}

func TestLoadSpec(t *testing.T) {
	spec, err := LoadSpec(writeFile(t, "sweep.yaml", sweepSpecYAML))
	require.NoError(t, err)
	assert.Equal(t, "edge-sweep", spec.Name)
	assert.Len(t, spec.Trials, 3)
	assert.Equal(t, 2, spec.Parallelism)
}

func TestLoadSpecRejectsDuplicateNames(t *testing.T) {
	yaml := `
name: dup
timeframe: 1m
trials:
  - name: a
  - name: a
`
	_, err := LoadSpec(writeFile(t, "sweep.yaml", yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRunnerIsolatesTrials(t *testing.T) {
	basePath := writeFile(t, "config.yaml", baseConfigYAML)
	spec, err := LoadSpec(writeFile(t, "sweep.yaml", sweepSpecYAML))
	require.NoError(t, err)

	factory := func() (probability.Provider, error) { return longProvider{}, nil }
	runner := NewRunner(basePath, factory, nil)

	results, err := runner.Run(context.Background(), spec, sweepCandles(500))
	require.NoError(t, err)
	require.Len(t, results, 3)

	// 结果按 spec 顺序返回。
	assert.Equal(t, "loose", results[0].Name)
	assert.Equal(t, "tight", results[1].Name)
	assert.Equal(t, "broken", results[2].Name)

	require.Empty(t, results[0].Err)
	require.Empty(t, results[1].Err)
	require.NotNil(t, results[0].Artifact)
	require.NotNil(t, results[1].Artifact)

	// 不同覆盖 ⇒ 不同配置哈希；废弃键 ⇒ trial 级失败不拖垮整体。
	assert.NotEqual(t, results[0].ConfigHash, results[1].ConfigHash)
	assert.Contains(t, results[2].Err, "thresholds.entry")
	assert.Nil(t, results[2].Artifact)
}

func TestRunnerDeterministicAcrossRuns(t *testing.T) {
	basePath := writeFile(t, "config.yaml", baseConfigYAML)
	spec, err := LoadSpec(writeFile(t, "sweep.yaml", sweepSpecYAML))
	require.NoError(t, err)

	factory := func() (probability.Provider, error) { return longProvider{}, nil }
	candles := sweepCandles(500)

	a, err := NewRunner(basePath, factory, nil).Run(context.Background(), spec, candles)
	require.NoError(t, err)
	b, err := NewRunner(basePath, factory, nil).Run(context.Background(), spec, candles)
	require.NoError(t, err)

	for i := range a {
		assert.Equal(t, a[i].ConfigHash, b[i].ConfigHash)
		if a[i].Artifact != nil {
			require.NotNil(t, b[i].Artifact)
			assert.Equal(t, a[i].Artifact.Trades, b[i].Artifact.Trades)
			assert.Equal(t, a[i].Artifact.Stats, b[i].Artifact.Stats)
		}
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	basePath := writeFile(t, "config.yaml", baseConfigYAML)
	spec, err := LoadSpec(writeFile(t, "sweep.yaml", sweepSpecYAML))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	factory := func() (probability.Provider, error) { return longProvider{}, nil }

	_, err = NewRunner(basePath, factory, nil).Run(ctx, spec, sweepCandles(400))
	require.Error(t, err)
}
