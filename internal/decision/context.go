package decision

import (
	"genesis/internal/config"
	"genesis/internal/feature"
	"genesis/internal/fibonacci"
	"genesis/internal/probability"
	"genesis/internal/regime"
)

// Input 为单根 K 线上决策所需的全部输入。调用方（回放引擎）
// 负责保证这些输入只来自当前 bar 及其之前的数据。
type Input struct {
	BarIndex   int
	Features   feature.Vector
	Probs      probability.Pair
	Regime     regime.Snapshot
	Confidence float64
	HTF        *fibonacci.Context
	LTF        *fibonacci.Context
}

// GateCheck 为单个 gate 的执行快照，用于审计与测试。
type GateCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Note   string `json:"note,omitempty"`
}

// Result 为决策产物。Reason 恰好为一个原因码；被任何 gate
// 拒绝时 Action 为 none、Size 为 0。
type Result struct {
	BarIndex int         `json:"bar_index"`
	Action   Action      `json:"action"`
	Size     float64     `json:"size"`
	Reason   Reason      `json:"reason"`
	Edge     float64     `json:"edge"`
	Zone     string      `json:"zone"`
	Gates    []GateCheck `json:"gates"`
}

// evalContext 为 gate 管线的内部可变状态。gate 按固定顺序执行，
// 前序 gate 计算出的候选方向、阈值等由后序 gate 读取。
type evalContext struct {
	in    Input
	cfg   *config.EngineConfig
	state *State

	// EV gate 的产物：各方向是否具备正期望。
	longViable  bool
	shortViable bool
	evLong      float64
	evShort     float64

	// 阈值选择的产物。
	zone      string
	threshold float64

	// 概率/平局裁决的产物。
	candidate Action
	edge      float64

	// HTF gate 推迟的拒绝：LTF 覆盖条件满足时可被清除。
	htfPendingBlock bool
	htfOverridden   bool

	// 定仓 gate 的产物。
	size float64

	checks []GateCheck
}

func (ec *evalContext) record(name string, passed bool, note string) {
	ec.checks = append(ec.checks, GateCheck{Name: name, Passed: passed, Note: note})
}
