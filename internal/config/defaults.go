package config

// keySet 记录配置文件中显式出现过的键（小写、点号路径）。
// defaults 只填补未显式设置的键，避免共享可变默认值：每次 Load
// 都构造全新的嵌套结构。
type keySet map[string]struct{}

func (s keySet) has(key string) bool {
	_, ok := s[key]
	return ok
}

func collectSettingsKeys(settings map[string]any, out keySet) {
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			out[key] = struct{}{}
			if child, ok := v.(map[string]any); ok {
				walk(key, child)
			}
		}
	}
	walk("", settings)
}

// applyDefaults 为未显式出现的键填默认值。阈值、risk_map、fib 的
// missing_policy 故意没有默认值——它们必须显式配置，缺失交给 validate 报错。
func (c *Config) applyDefaults(set keySet) {
	if !set.has("log_level") {
		c.LogLevel = "info"
	}
	if !set.has("data.candle_root") {
		c.Data.CandleRoot = "data/candles"
	}
	if !set.has("data.result_root") {
		c.Data.ResultRoot = "data/results"
	}
	if !set.has("http.addr") {
		c.HTTP.Addr = ":9991"
	}

	e := &c.Engine
	if !set.has("engine.max_position") {
		e.MaxPosition = 1.0
	}
	if !set.has("engine.ev.payoff_ratio") {
		e.EV.PayoffRatio = 1.5
	}
	if !set.has("engine.ev.cost_bps") {
		e.EV.CostBps = 8
	}
	if !set.has("engine.atr_zones.period") {
		e.ATRZones.Period = 14
	}
	if !set.has("engine.atr_zones.low_pct") {
		e.ATRZones.LowPct = 0.3
	}
	if !set.has("engine.atr_zones.high_pct") {
		e.ATRZones.HighPct = 0.7
	}
	if !set.has("engine.signal.hysteresis_steps") {
		e.Signal.HysteresisSteps = 3
	}
	if !set.has("engine.signal.cooldown_bars") {
		e.Signal.CooldownBars = 5
	}
	if !set.has("engine.signal.min_edge") {
		e.Signal.MinEdge = 0.02
	}
	if !set.has("engine.regime.hysteresis_bars") {
		e.Regime.HysteresisBars = 3
	}
	if !set.has("engine.regime.trend_period") {
		e.Regime.TrendPeriod = 50
	}
	if !set.has("engine.regime.adx_period") {
		e.Regime.ADXPeriod = 14
	}
	if !set.has("engine.regime.bull_slope") {
		e.Regime.BullSlope = 0.0008
	}
	if !set.has("engine.regime.bear_slope") {
		e.Regime.BearSlope = -0.0008
	}
	if !set.has("engine.regime.ranging_adx") {
		e.Regime.RangingADX = 20
	}
	if !set.has("engine.regime.volatile_pct") {
		e.Regime.VolatilePct = 0.8
	}
	if !set.has("engine.confidence.volume_ratio_cap") {
		e.Confidence.VolumeRatioCap = 1.0
	}
	if !set.has("engine.confidence.spread_ref_bps") {
		e.Confidence.SpreadRefBps = 10
	}
	if !set.has("engine.confidence.atr_ref_pct") {
		e.Confidence.ATRRefPct = 0.02
	}
	if len(e.Confidence.Floors) == 0 && !set.has("engine.confidence.floors") {
		e.Confidence.Floors = map[string]float64{
			"bull": 0.55, "bear": 0.55, "ranging": 0.65, "balanced": 0.6,
		}
	}
	if !set.has("engine.fibonacci.htf.timeframe") {
		e.Fibonacci.HTF.Timeframe = "4h"
	}
	if !set.has("engine.fibonacci.htf.swing_lookback") {
		e.Fibonacci.HTF.SwingLookback = 60
	}
	if !set.has("engine.fibonacci.htf.tolerance_atr") {
		e.Fibonacci.HTF.ToleranceATR = 0.8
	}
	if !set.has("engine.fibonacci.ltf.timeframe") {
		e.Fibonacci.LTF.Timeframe = "1h"
	}
	if !set.has("engine.fibonacci.ltf.swing_lookback") {
		e.Fibonacci.LTF.SwingLookback = 40
	}
	if !set.has("engine.fibonacci.ltf.tolerance_atr") {
		e.Fibonacci.LTF.ToleranceATR = 0.5
	}
	if !set.has("engine.exits.stop_loss_pct") {
		e.Exits.StopLossPct = 0.02
	}
	if !set.has("engine.exits.take_profit_pct") {
		e.Exits.TakeProfitPct = 0.04
	}
	if !set.has("engine.exits.max_hold_bars") {
		e.Exits.MaxHoldBars = 96
	}
	if !set.has("engine.exits.confidence_drop") {
		e.Exits.ConfidenceDrop = 0.25
	}
	if !set.has("engine.exits.trailing_atr_mult") {
		e.Exits.TrailingATRMult = 2.0
	}
	if !set.has("engine.exits.trailing_level_key") {
		e.Exits.TrailingLevelKey = "0.618"
	}

	r := &c.Replay
	if !set.has("replay.execution") {
		r.Execution = ExecutionWindow
	}
	if !set.has("replay.max_error_rate") {
		r.MaxErrorRate = 0.02
	}
	if !set.has("replay.min_bars_for_rate") {
		r.MinBarsForRate = 50
	}
	if !set.has("replay.feature_cache_size") {
		r.FeatureCacheSize = 2048
	}
}
