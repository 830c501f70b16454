package regime

import (
	"math"

	"genesis/internal/config"
)

// Regime 为离散市场状态。
type Regime string

const (
	Bull     Regime = "bull"
	Bear     Regime = "bear"
	Ranging  Regime = "ranging"
	Balanced Regime = "balanced"
)

// Inputs 为分类器的每 bar 输入：归一化趋势斜率、ADX 趋势强度、
// ATR 波动百分位（[0,1]）。
type Inputs struct {
	Slope         float64
	ADX           float64
	VolPercentile float64
}

// Snapshot 为单 bar 分类结果。LowConfidence 表示输入缺失/NaN、
// 本 bar 沿用了上一个 regime。
type Snapshot struct {
	Regime        Regime
	Candidate     Regime
	Streak        int
	LowConfidence bool
}

// Classifier 带迟滞的状态机：新分类连续出现 hysteresis_bars 根后才切换，
// 之前一直报告旧状态。一次回放 run 构造一个实例，逐 bar 推进，
// 不在 run 之间复用。
type Classifier struct {
	cfg config.RegimeConfig

	current   Regime
	candidate Regime
	streak    int
}

// NewClassifier 初始状态为 balanced。
func NewClassifier(cfg config.RegimeConfig) *Classifier {
	return &Classifier{cfg: cfg, current: Balanced, candidate: Balanced}
}

// Current 返回当前生效的 regime（不推进状态）。
func (c *Classifier) Current() Regime { return c.current }

// Step 消费一根 bar 的输入并返回生效状态。输入含 NaN/Inf 时不发生
// 任何转移：沿用旧状态并标记低置信度。
func (c *Classifier) Step(in Inputs) Snapshot {
	if !finite(in.Slope) || !finite(in.ADX) || !finite(in.VolPercentile) {
		return Snapshot{Regime: c.current, Candidate: c.candidate, Streak: c.streak, LowConfidence: true}
	}
	raw := c.classify(in)
	if raw == c.current {
		// 回到当前状态即清空候选计数。
		c.candidate = c.current
		c.streak = 0
	} else if raw == c.candidate {
		c.streak++
		if c.streak >= c.cfg.HysteresisBars {
			c.current = raw
			c.streak = 0
		}
	} else {
		c.candidate = raw
		c.streak = 1
		if c.cfg.HysteresisBars <= 1 {
			c.current = raw
			c.streak = 0
		}
	}
	return Snapshot{Regime: c.current, Candidate: c.candidate, Streak: c.streak}
}

// classify 为无迟滞的原始分类。无趋势时按波动分位细分：低波动为
// ranging，分位越过 volatile_pct 的震荡 bar 归为 balanced。
func (c *Classifier) classify(in Inputs) Regime {
	trending := in.ADX >= c.cfg.RangingADX
	switch {
	case trending && in.Slope >= c.cfg.BullSlope:
		return Bull
	case trending && in.Slope <= c.cfg.BearSlope:
		return Bear
	case !trending:
		if c.cfg.VolatilePct > 0 && in.VolPercentile >= c.cfg.VolatilePct {
			return Balanced
		}
		return Ranging
	default:
		return Balanced
	}
}

// Reset 显式重置到初始状态（仅用于明确的 state-reset 事件）。
func (c *Classifier) Reset() {
	c.current = Balanced
	c.candidate = Balanced
	c.streak = 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
