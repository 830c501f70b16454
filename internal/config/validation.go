package config

import (
	"fmt"
	"sort"
	"strings"
)

// validate 对配置做域内校验。结构性/自相矛盾的配置一律拒绝，
// 绝不静默取其一。
func validate(c *Config) error {
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Replay.validate(); err != nil {
		return err
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.MaxPosition <= 0 {
		return fmt.Errorf("engine.max_position must be > 0")
	}
	if e.EV.PayoffRatio <= 0 {
		return fmt.Errorf("engine.ev.payoff_ratio must be > 0")
	}
	if e.EV.CostBps < 0 {
		return fmt.Errorf("engine.ev.cost_bps must be >= 0")
	}
	if e.ATRZones.Period <= 1 {
		return fmt.Errorf("engine.atr_zones.period must be > 1")
	}
	if e.ATRZones.LowPct <= 0 || e.ATRZones.HighPct >= 1 || e.ATRZones.LowPct >= e.ATRZones.HighPct {
		return fmt.Errorf("engine.atr_zones requires 0 < low_pct < high_pct < 1 (got %.2f/%.2f)",
			e.ATRZones.LowPct, e.ATRZones.HighPct)
	}
	if err := e.Thresholds.validate(); err != nil {
		return err
	}
	if e.Signal.HysteresisSteps < 1 {
		return fmt.Errorf("engine.signal.hysteresis_steps must be >= 1")
	}
	if e.Signal.CooldownBars < 0 {
		return fmt.Errorf("engine.signal.cooldown_bars must be >= 0")
	}
	if e.Signal.MinEdge < 0 {
		return fmt.Errorf("engine.signal.min_edge must be >= 0")
	}
	if e.Regime.HysteresisBars < 1 {
		return fmt.Errorf("engine.regime.hysteresis_bars must be >= 1")
	}
	if e.Regime.VolatilePct < 0 || e.Regime.VolatilePct > 1 {
		return fmt.Errorf("engine.regime.volatile_pct must be in [0,1]")
	}
	if e.Confidence.VolumeRatioCap <= 0 {
		return fmt.Errorf("engine.confidence.volume_ratio_cap must be > 0")
	}
	for _, name := range RegimeNames {
		floor, ok := e.Confidence.Floors[name]
		if !ok {
			return fmt.Errorf("engine.confidence.floors missing regime %q", name)
		}
		if floor < 0 || floor > 1 {
			return fmt.Errorf("engine.confidence.floors.%s must be in [0,1]", name)
		}
	}
	if err := e.Fibonacci.HTF.validate("htf"); err != nil {
		return err
	}
	if err := e.Fibonacci.LTF.validate("ltf"); err != nil {
		return err
	}
	if e.Fibonacci.HTF.AllowOverride {
		return fmt.Errorf("engine.fibonacci.htf.allow_override is only valid on ltf")
	}
	if err := validateRiskMap(e.RiskMap); err != nil {
		return err
	}
	if err := e.Exits.validate(); err != nil {
		return err
	}
	return nil
}

func (t *ThresholdConfig) validate() error {
	if t.LegacyEntry != nil {
		// 废弃的顶层阈值曾经悄悄覆盖分档阈值，现在直接拒绝，
		// 防止两套来源各自漂移。
		return fmt.Errorf("thresholds.entry is removed: entry thresholds are configured per regime and ATR zone only (thresholds.by_regime)")
	}
	if len(t.ByRegime) == 0 {
		return fmt.Errorf("engine.thresholds.by_regime must be configured explicitly")
	}
	for _, name := range RegimeNames {
		zones, ok := t.ByRegime[name]
		if !ok {
			return fmt.Errorf("engine.thresholds.by_regime missing regime %q", name)
		}
		for zone, v := range map[string]float64{"low": zones.Low, "mid": zones.Mid, "high": zones.High} {
			if v <= 0.5 || v >= 1 {
				return fmt.Errorf("engine.thresholds.by_regime.%s.%s must be in (0.5,1), got %.3f", name, zone, v)
			}
		}
	}
	for name := range t.ByRegime {
		if !isKnownRegime(name) {
			return fmt.Errorf("engine.thresholds.by_regime contains unknown regime %q", name)
		}
	}
	return nil
}

func (f *FibTimeframeConfig) validate(scope string) error {
	if strings.TrimSpace(f.Timeframe) == "" {
		return fmt.Errorf("engine.fibonacci.%s.timeframe cannot be empty", scope)
	}
	if f.SwingLookback < 5 {
		return fmt.Errorf("engine.fibonacci.%s.swing_lookback must be >= 5", scope)
	}
	if f.ToleranceATR <= 0 {
		return fmt.Errorf("engine.fibonacci.%s.tolerance_atr must be > 0", scope)
	}
	switch f.MissingPolicy {
	case MissingPolicyBlock, MissingPolicyPass:
	case "":
		return fmt.Errorf("engine.fibonacci.%s.missing_policy must be set explicitly (block|pass)", scope)
	default:
		return fmt.Errorf("engine.fibonacci.%s.missing_policy must be block or pass, got %q", scope, f.MissingPolicy)
	}
	return nil
}

func validateRiskMap(steps []RiskStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("engine.risk_map must be configured explicitly")
	}
	sorted := sort.SliceIsSorted(steps, func(i, j int) bool {
		return steps[i].MinConfidence < steps[j].MinConfidence
	})
	if !sorted {
		return fmt.Errorf("engine.risk_map must be ordered by ascending min_confidence")
	}
	prevSize := -1.0
	for i, s := range steps {
		if s.MinConfidence < 0 {
			return fmt.Errorf("engine.risk_map[%d].min_confidence must be >= 0", i)
		}
		if s.Size < 0 {
			return fmt.Errorf("engine.risk_map[%d].size must be >= 0", i)
		}
		if i > 0 && s.MinConfidence == steps[i-1].MinConfidence {
			return fmt.Errorf("engine.risk_map[%d] duplicates min_confidence %.3f", i, s.MinConfidence)
		}
		if s.Size < prevSize {
			return fmt.Errorf("engine.risk_map must be monotonic: size decreases at step %d", i)
		}
		prevSize = s.Size
	}
	return nil
}

func (x *ExitConfig) validate() error {
	if x.StopLossPct <= 0 {
		return fmt.Errorf("engine.exits.stop_loss_pct must be > 0")
	}
	if x.TakeProfitPct <= 0 {
		return fmt.Errorf("engine.exits.take_profit_pct must be > 0")
	}
	if x.MaxHoldBars <= 0 {
		return fmt.Errorf("engine.exits.max_hold_bars must be > 0")
	}
	if x.ConfidenceDrop < 0 || x.ConfidenceDrop > 1 {
		return fmt.Errorf("engine.exits.confidence_drop must be in [0,1]")
	}
	if x.TrailingEnabled && x.TrailingATRMult <= 0 {
		return fmt.Errorf("engine.exits.trailing_atr_mult must be > 0 when trailing is enabled")
	}
	return nil
}

func (r *ReplayConfig) validate() error {
	switch r.Execution {
	case ExecutionPrecomputed, ExecutionWindow:
	default:
		return fmt.Errorf("replay.execution must be precomputed or window, got %q", r.Execution)
	}
	if r.MaxErrorRate < 0 || r.MaxErrorRate >= 1 {
		return fmt.Errorf("replay.max_error_rate must be in [0,1)")
	}
	if r.MinBarsForRate < 1 {
		return fmt.Errorf("replay.min_bars_for_rate must be >= 1")
	}
	if r.FeatureCacheSize < 16 {
		return fmt.Errorf("replay.feature_cache_size must be >= 16")
	}
	return nil
}

func isKnownRegime(name string) bool {
	for _, r := range RegimeNames {
		if r == name {
			return true
		}
	}
	return false
}
