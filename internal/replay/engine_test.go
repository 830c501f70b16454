package replay

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis/internal/config"
	"genesis/internal/decision"
	"genesis/internal/feature"
	"genesis/internal/market"
	"genesis/internal/probability"
)

// syntheticSeries 生成确定性的带趋势正弦序列，任何一次调用
// 对相同 n 产出逐字节相同的数据。
func syntheticSeries(n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		wave := 0.004*math.Sin(float64(i)/9) - 0.002*math.Sin(float64(i)/23)
		next := price * (1 + 0.0002 + wave)
		high := math.Max(price, next) * 1.003
		low := math.Min(price, next) * 0.997
		out[i] = market.Candle{
			OpenTime:  int64(i+1) * 60_000,
			CloseTime: int64(i+2)*60_000 - 1,
			Open:      price,
			High:      high,
			Low:       low,
			Close:     next,
			Volume:    1000 + 100*math.Sin(float64(i)/5),
			Trades:    12,
		}
		price = next
	}
	return out
}

func testReplayConfig() *config.Config {
	zt := config.ZoneThresholds{Low: 0.55, Mid: 0.58, High: 0.62}
	cfg := &config.Config{LogLevel: "error"}
	cfg.Engine = config.EngineConfig{
		MaxPosition: 1.0,
		EV:          config.EVConfig{PayoffRatio: 2.0, CostBps: 10},
		ATRZones:    config.ATRZoneConfig{Period: 14, LowPct: 0.25, HighPct: 0.75},
		Thresholds: config.ThresholdConfig{
			ByRegime: map[string]config.ZoneThresholds{
				"bull": zt, "bear": zt, "ranging": zt, "balanced": zt,
			},
		},
		Signal: config.SignalConfig{HysteresisSteps: 2, CooldownBars: 5, MinEdge: 0.005},
		Regime: config.RegimeConfig{
			HysteresisBars: 3, TrendPeriod: 20, ADXPeriod: 14,
			BullSlope: 0.0005, BearSlope: -0.0005, RangingADX: 20,
		},
		Confidence: config.ConfidenceConfig{
			VolumeRatioCap: 1.0,
			Floors:         map[string]float64{"bull": 0.05, "bear": 0.05, "ranging": 0.05, "balanced": 0.05},
		},
		Fibonacci: config.FibonacciConfig{
			HTF: config.FibTimeframeConfig{Timeframe: "15m", SwingLookback: 40, ToleranceATR: 5, MissingPolicy: config.MissingPolicyPass},
			LTF: config.FibTimeframeConfig{Timeframe: "1m", SwingLookback: 60, ToleranceATR: 5, MissingPolicy: config.MissingPolicyPass},
		},
		RiskMap: []config.RiskStep{
			{MinConfidence: 0.0, Size: 0.25},
			{MinConfidence: 0.3, Size: 0.5},
			{MinConfidence: 0.6, Size: 1.0},
		},
		Exits: config.ExitConfig{
			StopLossPct: 0.02, TakeProfitPct: 0.03, MaxHoldBars: 30,
		},
	}
	cfg.Replay = config.ReplayConfig{
		Execution:        config.ExecutionWindow,
		MaxErrorRate:     0.05,
		MinBarsForRate:   50,
		FeatureCacheSize: 256,
		Seed:             42,
	}
	return cfg
}

// biasedProvider 按特征确定性给出概率，倾向多头。
type biasedProvider struct{}

func (biasedProvider) Name() string { return "biased" }

func (biasedProvider) Predict(f map[string]float64) (probability.Pair, error) {
	// 用 ret_5 的符号微调概率，保证既有放行也有拦截。
	p := 0.62 + 0.1*math.Tanh(f[feature.KeyRet5]*50)
	if p > 0.95 {
		p = 0.95
	}
	if p < 0.05 {
		p = 0.05
	}
	return probability.Pair{Buy: p, Sell: 1 - p}, nil
}

func TestRunDeterministic(t *testing.T) {
	cfg := testReplayConfig()
	candles := syntheticSeries(500)

	a, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), candles, "1m")
	require.NoError(t, err)
	b, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), candles, "1m")
	require.NoError(t, err)

	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.Equity, b.Equity)
	assert.Equal(t, a.ReasonCounts, b.ReasonCounts)
	assert.Equal(t, a.Stats, b.Stats)
	assert.NotEqual(t, a.RunID, b.RunID) // run 标识独立于结果
}

func TestRunNoLookahead(t *testing.T) {
	cfg := testReplayConfig()
	full := syntheticSeries(600)
	cut := 450

	fullArt, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), full, "1m")
	require.NoError(t, err)
	prefArt, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), full[:cut], "1m")
	require.NoError(t, err)

	// 截断序列上的逐 bar 权益必须与完整序列前缀一致（末根 bar
	// 因 end_of_data 强平允许不同）。
	require.GreaterOrEqual(t, len(fullArt.Equity), cut)
	assert.Equal(t, fullArt.Equity[:cut-1], prefArt.Equity[:cut-1])

	// 前缀内完整闭合的交易也必须一致。
	var fullClosed, prefClosed []TradeRecord
	for _, tr := range fullArt.Trades {
		if tr.ExitBar < cut-1 {
			fullClosed = append(fullClosed, tr)
		}
	}
	for _, tr := range prefArt.Trades {
		if tr.ExitBar < cut-1 {
			prefClosed = append(prefClosed, tr)
		}
	}
	assert.Equal(t, fullClosed, prefClosed)
}

// flatSeries 生成全程无波动的常数价序列。
func flatSeries(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = market.Candle{
			OpenTime:  int64(i+1) * 60_000,
			CloseTime: int64(i+2)*60_000 - 1,
			Open:      100, High: 100, Low: 100, Close: 100,
			Volume: 1000, Trades: 10,
		}
	}
	return out
}

func TestRunFlatSeriesNoTradesNoErrors(t *testing.T) {
	cfg := testReplayConfig()
	art, err := NewEngine(cfg, &probability.Static{}, nil).Run(context.Background(), flatSeries(400), "1m")
	require.NoError(t, err)

	assert.Empty(t, art.Trades)
	assert.Empty(t, art.Errors)
	require.Len(t, art.Equity, 400)
	for i, eq := range art.Equity {
		require.Falsef(t, math.IsNaN(eq) || math.IsInf(eq, 0), "equity[%d] 非有限值", i)
		assert.Zero(t, eq)
	}
	assert.Zero(t, art.Stats.TotalReturn)
	assert.Zero(t, art.ReasonCounts[decision.ReasonOK])
}

func TestRunEvaluatesDecisionOnHeldBars(t *testing.T) {
	cfg := testReplayConfig()
	candles := syntheticSeries(800)

	art, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), candles, "1m")
	require.NoError(t, err)
	require.NotEmpty(t, art.Trades)

	// 预热之后的每根 bar 都要走一遍决策管线（持仓期也不例外），
	// 原因分布的总量因此必须覆盖全部非预热 bar。
	total := 0
	for _, n := range art.ReasonCounts {
		total += n
	}
	assert.Equal(t, len(candles)-(feature.MinBars-1), total)
}

func TestTradeCommissionNetsIntoPnL(t *testing.T) {
	cfg := testReplayConfig()
	candles := syntheticSeries(800)

	art, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), candles, "1m")
	require.NoError(t, err)
	require.NotEmpty(t, art.Trades)

	sum := 0.0
	for i, tr := range art.Trades {
		expected := tr.Size * cfg.Engine.EV.CostBps / 1e4 * 2
		assert.InDeltaf(t, expected, tr.Commission, 1e-12, "trade %d", i)

		gross := (tr.ExitPrice - tr.EntryPrice) / tr.EntryPrice
		if tr.Side == decision.ActionShort {
			gross = -gross
		}
		gross *= tr.Size
		assert.InDeltaf(t, gross-tr.Commission, tr.PnL, 1e-9, "trade %d", i)
		sum += tr.PnL
	}
	assert.InDelta(t, sum, art.Stats.TotalReturn, 1e-9)
}

func TestRunProducesTradesAndReasons(t *testing.T) {
	cfg := testReplayConfig()
	candles := syntheticSeries(800)

	art, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), candles, "1m")
	require.NoError(t, err)

	assert.NotEmpty(t, art.Trades, "合成趋势序列应该产生交易")
	assert.Len(t, art.Equity, len(candles))
	assert.Equal(t, len(candles), art.Stats.Bars)
	assert.Equal(t, config.ExecutionWindow, art.FeatureMode)

	total := 0
	for _, n := range art.ReasonCounts {
		total += n
	}
	assert.Greater(t, total, 0)

	// 每笔交易闭合且出场在入场之后。
	for _, tr := range art.Trades {
		assert.Greater(t, tr.ExitBar, tr.EntryBar)
		assert.NotEmpty(t, tr.ExitKind)
	}
}

func TestRunPrecomputedMatchesWindow(t *testing.T) {
	candles := syntheticSeries(500)

	// 三档阈值取同值，把对比聚焦在执行路径本身：两条路径的指标
	// 值在文档化容差内等价，不应改变任何一笔交易的定位。
	flat := config.ZoneThresholds{Low: 0.58, Mid: 0.58, High: 0.58}
	flatten := func(c *config.Config) {
		for k := range c.Engine.Thresholds.ByRegime {
			c.Engine.Thresholds.ByRegime[k] = flat
		}
	}

	winCfg := testReplayConfig()
	flatten(winCfg)
	winArt, err := NewEngine(winCfg, biasedProvider{}, nil).Run(context.Background(), candles, "1m")
	require.NoError(t, err)

	preCfg := testReplayConfig()
	flatten(preCfg)
	preCfg.Replay.Execution = config.ExecutionPrecomputed
	preCfg.Replay.StrictMode = true
	preArt, err := NewEngine(preCfg, biasedProvider{}, nil).Run(context.Background(), candles, "1m")
	require.NoError(t, err)
	require.Equal(t, config.ExecutionPrecomputed, preArt.FeatureMode)

	// 两条执行路径在容差内等价：交易序列的 bar 定位应一致。
	require.Equal(t, len(winArt.Trades), len(preArt.Trades))
	for i := range winArt.Trades {
		assert.Equal(t, winArt.Trades[i].EntryBar, preArt.Trades[i].EntryBar, "trade %d", i)
		assert.Equal(t, winArt.Trades[i].Side, preArt.Trades[i].Side, "trade %d", i)
	}
}

// failingProvider 在预热后恒定报错，用于错误预算测试。
type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }
func (failingProvider) Predict(map[string]float64) (probability.Pair, error) {
	return probability.Pair{}, fmt.Errorf("model unavailable")
}

func TestRunAbortsOnErrorBudget(t *testing.T) {
	cfg := testReplayConfig()
	cfg.Replay.MaxErrorRate = 0.01
	cfg.Replay.MinBarsForRate = 210

	_, err := NewEngine(cfg, failingProvider{}, nil).Run(context.Background(), syntheticSeries(400), "1m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "错误率")
	assert.Contains(t, err.Error(), "stage=probability")
}

func TestRunRejectsInvalidSeries(t *testing.T) {
	cfg := testReplayConfig()
	candles := syntheticSeries(300)
	candles[120].OpenTime = candles[119].OpenTime // 重复时间戳

	_, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), candles, "1m")
	require.Error(t, err)
}

func TestRunRejectsTimeframeMismatch(t *testing.T) {
	cfg := testReplayConfig()
	_, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), syntheticSeries(300), "5m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "周期")
}

func TestRunStrictModeRejectsShortSeriesInPrecomputed(t *testing.T) {
	cfg := testReplayConfig()
	cfg.Replay.Execution = config.ExecutionPrecomputed
	cfg.Replay.StrictMode = true

	// 序列不足以建表：严格模式硬错误，非严格模式降级为 window。
	short := syntheticSeries(feature.MinBars / 2)
	_, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), short, "1m")
	require.Error(t, err)

	cfg.Replay.StrictMode = false
	art, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), short, "1m")
	require.NoError(t, err)
	assert.Equal(t, config.ExecutionWindow, art.FeatureMode)
	assert.Empty(t, art.Trades) // 全程预热，不可能有决策
}

func TestRunHonorsContextCancel(t *testing.T) {
	cfg := testReplayConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(cfg, biasedProvider{}, nil).Run(ctx, syntheticSeries(400), "1m")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEndOfDataForceClose(t *testing.T) {
	cfg := testReplayConfig()
	// 极宽的出场条件让持仓活到数据结束。
	cfg.Engine.Exits = config.ExitConfig{StopLossPct: 0.5, TakeProfitPct: 0.5}

	art, err := NewEngine(cfg, biasedProvider{}, nil).Run(context.Background(), syntheticSeries(600), "1m")
	require.NoError(t, err)
	require.NotEmpty(t, art.Trades)

	last := art.Trades[len(art.Trades)-1]
	assert.Equal(t, ExitEndOfData, last.ExitKind)
	assert.Equal(t, 599, last.ExitBar)
}

func TestComputeStats(t *testing.T) {
	trades := []TradeRecord{
		{PnL: 0.05}, {PnL: -0.02}, {PnL: 0.03},
	}
	equity := []float64{0, 0.05, 0.03, 0.06}
	st := computeStats(trades, equity, 4, 0)

	assert.Equal(t, 3, st.Trades)
	assert.Equal(t, 2, st.Wins)
	assert.InDelta(t, 2.0/3.0, st.WinRate, 1e-12)
	assert.InDelta(t, 0.06, st.TotalReturn, 1e-12)
	assert.InDelta(t, 4.0, st.ProfitFactor, 1e-12)
	assert.InDelta(t, 0.02, st.MaxDrawdown, 1e-12)
}
