package decision

import (
	"genesis/internal/config"
	"genesis/internal/feature"
	"genesis/internal/logger"
)

// Engine 为决策管线：固定顺序执行 gate，第一个拒绝立即短路，
// 其原因码即本 bar 的最终原因。Engine 本身无跨 bar 状态，
// 所有跨 bar 记忆都放在显式传入的 State 里，便于扫描并发复用。
type Engine struct {
	cfg *config.EngineConfig
	log *logger.Scoped
}

// NewEngine 构造决策引擎。cfg 已通过加载期校验。
func NewEngine(cfg *config.EngineConfig, log *logger.Scoped) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// gateOrder 为管线的权威执行顺序。顺序即语义：改变它会改变
// 同一输入的原因码归属。
var gateOrder = []gateFunc{
	gateFailSafe,
	gateExpectedValue,
	gateZoneThreshold,
	gateProbability,
	gateMinEdge,
	gateHTFFib,
	gateLTFFib,
	gateHysteresis,
	gateCooldown,
	gateConfidenceFloor,
	gateSizing,
}

// Evaluate 在单根 bar 上执行完整管线并返回决策。同一输入与同一
// State 快照下结果完全可复现。
func (e *Engine) Evaluate(in Input, state *State) Result {
	// ATR 分位史每 bar 推进一次，与 gate 是否放行无关，
	// 否则被拦截的 bar 会让分位界停滞。
	if atr, ok := in.Features[feature.KeyATRPct]; ok {
		state.ObserveATR(atr)
	}

	ec := &evalContext{in: in, cfg: e.cfg, state: state}
	for _, g := range gateOrder {
		reason, ok := g(ec)
		if !ok {
			if e.log != nil {
				e.log.Debugf("bar=%d 拒绝: reason=%s", in.BarIndex, reason)
			}
			return Result{
				BarIndex: in.BarIndex,
				Action:   ActionNone,
				Size:     0,
				Reason:   reason,
				Edge:     ec.edge,
				Zone:     ec.zone,
				Gates:    ec.checks,
			}
		}
	}

	state.MarkSignal(ec.candidate, in.BarIndex)
	if e.log != nil {
		e.log.Debugf("bar=%d 放行: action=%s size=%.4f edge=%.4f zone=%s",
			in.BarIndex, ec.candidate, ec.size, ec.edge, ec.zone)
	}
	return Result{
		BarIndex: in.BarIndex,
		Action:   ec.candidate,
		Size:     ec.size,
		Reason:   ReasonOK,
		Edge:     ec.edge,
		Zone:     ec.zone,
		Gates:    ec.checks,
	}
}
