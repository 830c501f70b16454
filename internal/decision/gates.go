package decision

import (
	"fmt"
	"math"

	"genesis/internal/config"
	"genesis/internal/feature"
	"genesis/internal/fibonacci"
)

// gateFunc 执行一个 gate。ok=false 时 reason 为本 gate 的拒绝原因，
// 管线立即短路；ok=true 时继续下一个 gate。
type gateFunc func(ec *evalContext) (reason Reason, ok bool)

// gateFailSafe 为前置安检：任何 NaN/Inf 输入直接判 MISSING_DATA，
// 绝不让坏数据流进后面的算术。
func gateFailSafe(ec *evalContext) (Reason, bool) {
	if err := ec.in.Features.Validate(); err != nil {
		ec.record("fail_safe", false, err.Error())
		return ReasonMissingData, false
	}
	if !validProb(ec.in.Probs.Buy) {
		ec.record("fail_safe", false, fmt.Sprintf("p_buy 非法: %v", ec.in.Probs.Buy))
		return ReasonMissingData, false
	}
	if !validProb(ec.in.Probs.Sell) {
		ec.record("fail_safe", false, fmt.Sprintf("p_sell 非法: %v", ec.in.Probs.Sell))
		return ReasonMissingData, false
	}
	if math.IsNaN(ec.in.Confidence) || math.IsInf(ec.in.Confidence, 0) {
		ec.record("fail_safe", false, "confidence 非法")
		return ReasonMissingData, false
	}
	ec.record("fail_safe", true, "")
	return ReasonOK, true
}

func validProb(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0 && p <= 1
}

// gateExpectedValue 计算双向期望值，两个方向都非正时拦截。
// EV = p·payoff − (1−p)·1 − cost，风险单位归一为 1。
func gateExpectedValue(ec *evalContext) (Reason, bool) {
	payoff := ec.cfg.EV.PayoffRatio
	cost := ec.cfg.EV.CostBps / 1e4
	ec.evLong = ec.in.Probs.Buy*payoff - (1-ec.in.Probs.Buy) - cost
	ec.evShort = ec.in.Probs.Sell*payoff - (1-ec.in.Probs.Sell) - cost
	ec.longViable = ec.evLong > 0
	ec.shortViable = ec.evShort > 0
	if !ec.longViable && !ec.shortViable {
		ec.record("expected_value", false,
			fmt.Sprintf("ev_long=%.4f ev_short=%.4f", ec.evLong, ec.evShort))
		return ReasonEVBlock, false
	}
	ec.record("expected_value", true,
		fmt.Sprintf("ev_long=%.4f ev_short=%.4f", ec.evLong, ec.evShort))
	return ReasonOK, true
}

// gateZoneThreshold 按滚动 ATR 分位把当前 bar 归入 low/mid/high 档，
// 再从分档表里取出本 regime 下的入场阈值。历史不足以估计分位界时
// 落在 mid 档。本 gate 只做选择，不拒绝。
func gateZoneThreshold(ec *evalContext) (Reason, bool) {
	atrPct := ec.in.Features[feature.KeyATRPct]
	zone := "mid"
	if low, high, ok := ec.state.ATRBounds(ec.cfg.ATRZones.LowPct, ec.cfg.ATRZones.HighPct); ok {
		switch {
		case atrPct <= low:
			zone = "low"
		case atrPct >= high:
			zone = "high"
		}
	}
	ec.zone = zone

	zt := ec.cfg.Thresholds.ByRegime[string(ec.in.Regime.Regime)]
	switch zone {
	case "low":
		ec.threshold = zt.Low
	case "high":
		ec.threshold = zt.High
	default:
		ec.threshold = zt.Mid
	}
	ec.record("zone_threshold", true,
		fmt.Sprintf("zone=%s threshold=%.3f regime=%s", zone, ec.threshold, ec.in.Regime.Regime))
	return ReasonOK, true
}

// gateProbability 检查是否有方向同时满足正期望与概率阈值。
// 阈值只有这一处来源：gateZoneThreshold 选出的分档值。
func gateProbability(ec *evalContext) (Reason, bool) {
	longPass := ec.longViable && ec.in.Probs.Buy >= ec.threshold
	shortPass := ec.shortViable && ec.in.Probs.Sell >= ec.threshold
	if !longPass && !shortPass {
		ec.record("probability", false,
			fmt.Sprintf("p_buy=%.4f p_sell=%.4f threshold=%.3f", ec.in.Probs.Buy, ec.in.Probs.Sell, ec.threshold))
		return ReasonProbaBlock, false
	}

	// 平局裁决：两个方向都过线时取超额概率（p − threshold）更大的一侧；
	// 完全相等时取多头，保证裁决是全序、可复现的。
	switch {
	case longPass && shortPass:
		if ec.in.Probs.Sell > ec.in.Probs.Buy {
			ec.candidate = ActionShort
			ec.edge = ec.in.Probs.Sell - ec.threshold
		} else {
			ec.candidate = ActionLong
			ec.edge = ec.in.Probs.Buy - ec.threshold
		}
	case longPass:
		ec.candidate = ActionLong
		ec.edge = ec.in.Probs.Buy - ec.threshold
	default:
		ec.candidate = ActionShort
		ec.edge = ec.in.Probs.Sell - ec.threshold
	}
	ec.record("probability", true, fmt.Sprintf("candidate=%s edge=%.4f", ec.candidate, ec.edge))
	return ReasonOK, true
}

// gateMinEdge 要求胜出方向的超额概率达到 min_edge，
// 否则视为优势过薄不值得进场。
func gateMinEdge(ec *evalContext) (Reason, bool) {
	if ec.edge < ec.cfg.Signal.MinEdge {
		ec.record("min_edge", false, fmt.Sprintf("edge=%.4f min=%.4f", ec.edge, ec.cfg.Signal.MinEdge))
		return ReasonEdgeTooSmall, false
	}
	ec.record("min_edge", true, "")
	return ReasonOK, true
}

// fibNear 判断上下文是否给出了足够近的回撤位。
func fibNear(ctx *fibonacci.Context, tolATR float64) bool {
	return ctx != nil && ctx.Available && ctx.NearestDistATR <= tolATR
}

// gateHTFFib 检查高周期回撤位。上下文不可用时按 missing_policy
// 处理；价格离最近回撤位过远时拦截。LTF 配置了覆盖条款时，
// 拦截先挂起，交给 gateLTFFib 终裁。
func gateHTFFib(ec *evalContext) (Reason, bool) {
	fc := ec.cfg.Fibonacci.HTF
	ctx := ec.in.HTF
	if ctx == nil || !ctx.Available {
		if fc.MissingPolicy == config.MissingPolicyPass {
			ec.record("htf_fib", true, "上下文不可用，policy=pass")
			return ReasonOK, true
		}
		ec.record("htf_fib", false, "上下文不可用，policy=block")
		return ReasonHTFFibBlock, false
	}
	if ctx.NearestDistATR <= fc.ToleranceATR {
		ec.record("htf_fib", true,
			fmt.Sprintf("nearest=%s dist=%.3fATR", ctx.NearestKey, ctx.NearestDistATR))
		return ReasonOK, true
	}
	if ec.cfg.Fibonacci.LTF.AllowOverride {
		ec.htfPendingBlock = true
		ec.record("htf_fib", true,
			fmt.Sprintf("dist=%.3fATR 超限，挂起待 LTF 覆盖", ctx.NearestDistATR))
		return ReasonOK, true
	}
	ec.record("htf_fib", false,
		fmt.Sprintf("nearest=%s dist=%.3fATR tol=%.3f", ctx.NearestKey, ctx.NearestDistATR, fc.ToleranceATR))
	return ReasonHTFFibBlock, false
}

// gateLTFFib 检查低周期回撤位，并对挂起的 HTF 拦截做终裁。
// 原因码归属是确定的：HTF 拦截挂起时，本 gate 只是覆盖探针，
// 探针失败一律回落到 HTF_FIB_BLOCK；没有挂起时，LTF 自身的
// 失败才记 LTF_FIB_BLOCK，两个原因码永不混用。
func gateLTFFib(ec *evalContext) (Reason, bool) {
	fc := ec.cfg.Fibonacci.LTF
	ctx := ec.in.LTF

	ltfNear := fibNear(ctx, fc.ToleranceATR)
	if ec.htfPendingBlock {
		if ltfNear && fc.AllowOverride {
			ec.htfOverridden = true
			ec.record("ltf_fib", true,
				fmt.Sprintf("nearest=%s dist=%.3fATR，覆盖 HTF 拦截", ctx.NearestKey, ctx.NearestDistATR))
			return ReasonOK, true
		}
		ec.record("ltf_fib", false, "HTF 拦截挂起且覆盖条件未满足")
		return ReasonHTFFibBlock, false
	}

	switch {
	case ctx == nil || !ctx.Available:
		if fc.MissingPolicy != config.MissingPolicyPass {
			ec.record("ltf_fib", false, "上下文不可用，policy=block")
			return ReasonLTFFibBlock, false
		}
		ec.record("ltf_fib", true, "上下文不可用，policy=pass")
	case ltfNear:
		ec.record("ltf_fib", true,
			fmt.Sprintf("nearest=%s dist=%.3fATR", ctx.NearestKey, ctx.NearestDistATR))
	default:
		ec.record("ltf_fib", false,
			fmt.Sprintf("nearest=%s dist=%.3fATR tol=%.3f", ctx.NearestKey, ctx.NearestDistATR, fc.ToleranceATR))
		return ReasonLTFFibBlock, false
	}
	return ReasonOK, true
}

// gateHysteresis 要求候选方向连续出现 hysteresis_steps 根 bar
// 才放行，换向即重置计数，压制快速来回翻转。
func gateHysteresis(ec *evalContext) (Reason, bool) {
	steps := ec.cfg.Signal.HysteresisSteps
	streak := ec.state.observeCandidate(ec.candidate)
	if steps > 1 && streak < steps {
		ec.record("hysteresis", false, fmt.Sprintf("streak=%d need=%d", streak, steps))
		return ReasonHysteresisBlock, false
	}
	ec.record("hysteresis", true, fmt.Sprintf("streak=%d", streak))
	return ReasonOK, true
}

// gateCooldown 在上一笔平仓后的冷却窗口内拒绝新开仓。
func gateCooldown(ec *evalContext) (Reason, bool) {
	if ec.state.InCooldown(ec.in.BarIndex) {
		ec.record("cooldown", false, fmt.Sprintf("until_bar=%d", ec.state.cooldownUntil))
		return ReasonCooldownBlock, false
	}
	ec.record("cooldown", true, "")
	return ReasonOK, true
}

// gateConfidenceFloor 按 regime 取置信度下限。
func gateConfidenceFloor(ec *evalContext) (Reason, bool) {
	floor := ec.cfg.Confidence.Floors[string(ec.in.Regime.Regime)]
	if ec.in.Confidence < floor {
		ec.record("confidence_floor", false,
			fmt.Sprintf("confidence=%.4f floor=%.4f regime=%s", ec.in.Confidence, floor, ec.in.Regime.Regime))
		return ReasonConfidenceBlock, false
	}
	ec.record("confidence_floor", true, fmt.Sprintf("confidence=%.4f floor=%.4f", ec.in.Confidence, floor))
	return ReasonOK, true
}

// gateSizing 按置信度→仓位映射表定仓。映射内部出错（空表、
// 置信度低于首档、结果非法）一律 SIZING_ERROR 且仓位为 0，
// 与"映射成功但档位本身给 0"严格区分。
func gateSizing(ec *evalContext) (Reason, bool) {
	size, err := sizeForConfidence(ec.cfg.RiskMap, ec.in.Confidence)
	if err != nil {
		ec.record("sizing", false, err.Error())
		return ReasonSizingError, false
	}
	if size > ec.cfg.MaxPosition {
		size = ec.cfg.MaxPosition
	}
	ec.size = size
	ec.record("sizing", true, fmt.Sprintf("size=%.4f", size))
	return ReasonOK, true
}
