package decision

import (
	"math"
	"sort"
)

// atrBoundsRecomputeEvery 控制 ATR 分位界的惰性重算频率。
// 分位界只随历史缓慢漂移，不必每根 bar 都重排一次。
const atrBoundsRecomputeEvery = 32

// State 持有单次运行内跨 bar 的策略状态：滞回计数、冷却期、
// 上一个信号方向以及滚动 ATR 分位界缓存。单个回放 goroutine
// 独占，不做加锁。
type State struct {
	lastCandidate Action
	streak        int

	cooldownUntil int

	lastSignal    Action
	lastSignalBar int

	atrHistory    []float64
	atrSorted     []float64
	atrDirtySince int
	lowBound      float64
	highBound     float64
	boundsReady   bool
}

// NewState 返回初始状态：无冷却、无信号历史。
func NewState() *State {
	return &State{cooldownUntil: -1, lastSignalBar: -1}
}

// ObserveATR 在每根 bar 上记录 atr_pct，用于维护分位界。
// NaN 不入史（缺数据的 bar 已被前置 gate 拦截）。
func (s *State) ObserveATR(atrPct float64) {
	if math.IsNaN(atrPct) || math.IsInf(atrPct, 0) {
		return
	}
	s.atrHistory = append(s.atrHistory, atrPct)
	s.atrDirtySince++
}

// ATRBounds 返回当前的低/高分位界（lowPct 与 highPct 由配置给定）。
// 界值按 atrBoundsRecomputeEvery 根 bar 的节奏惰性重算并缓存。
// 历史不足时返回 ok=false，调用方应落在中档。
func (s *State) ATRBounds(lowPct, highPct float64) (low, high float64, ok bool) {
	const minSamples = 20
	if len(s.atrHistory) < minSamples {
		return 0, 0, false
	}
	if !s.boundsReady || s.atrDirtySince >= atrBoundsRecomputeEvery {
		s.atrSorted = append(s.atrSorted[:0], s.atrHistory...)
		sort.Float64s(s.atrSorted)
		s.lowBound = percentile(s.atrSorted, lowPct)
		s.highBound = percentile(s.atrSorted, highPct)
		s.boundsReady = true
		s.atrDirtySince = 0
	}
	return s.lowBound, s.highBound, true
}

// percentile 在已排序切片上取 p∈[0,1] 分位，线性插值。
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// observeCandidate 更新滞回计数：同向累加，换向或首个候选重置为 1。
// 返回更新后的连续步数。只有走到滞回 gate 的 bar 才推进计数，
// 被更早 gate 拒绝的 bar 不影响已有 streak。
func (s *State) observeCandidate(side Action) int {
	if side == s.lastCandidate {
		s.streak++
	} else {
		s.lastCandidate = side
		s.streak = 1
	}
	return s.streak
}

// InCooldown 判断 barIndex 是否仍处于冷却期内。
func (s *State) InCooldown(barIndex int) bool {
	return barIndex < s.cooldownUntil
}

// StartCooldown 由回放引擎在平仓后调用，阻断 [exitBar, exitBar+bars) 的新开仓。
func (s *State) StartCooldown(exitBar, bars int) {
	if bars <= 0 {
		return
	}
	until := exitBar + bars
	if until > s.cooldownUntil {
		s.cooldownUntil = until
	}
}

// MarkSignal 在决策通过全部 gate 后记录方向，供下一次滞回判断。
func (s *State) MarkSignal(side Action, barIndex int) {
	s.lastSignal = side
	s.lastSignalBar = barIndex
}

// LastSignal 返回最近一次放行的方向（可能为空）。
func (s *State) LastSignal() (Action, int) {
	return s.lastSignal, s.lastSignalBar
}

// Reset 清空全部跨 bar 状态，供参数扫描中的独立 trial 复用。
func (s *State) Reset() {
	*s = State{cooldownUntil: -1, lastSignalBar: -1}
}
