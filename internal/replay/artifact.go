package replay

import (
	"math"
	"time"

	"genesis/internal/decision"
)

// TradeRecord 为一笔完整交易的留痕。PnL 已扣除 Commission。
type TradeRecord struct {
	Side       decision.Action `json:"side"`
	EntryBar   int             `json:"entry_bar"`
	ExitBar    int             `json:"exit_bar"`
	EntryPrice float64         `json:"entry_price"`
	ExitPrice  float64         `json:"exit_price"`
	Size       float64         `json:"size"`
	PnL        float64         `json:"pnl"`
	Commission float64         `json:"commission"`
	ExitKind   ExitKind        `json:"exit_kind"`
	ExitNote   string          `json:"exit_note,omitempty"`
}

// BarError 记录单根 bar 上被吞掉的可容忍错误，供错误预算核算与诊断。
type BarError struct {
	BarIndex int    `json:"bar_index"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
}

// Stats 为一次回放的汇总统计。
type Stats struct {
	Bars         int     `json:"bars"`
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"win_rate"`
	TotalReturn  float64 `json:"total_return"`
	ProfitFactor float64 `json:"profit_factor"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	ErrorRate    float64 `json:"error_rate"`
}

// Artifact 为一次回放的全部产物：逐笔交易、权益曲线、逐 bar 决策
// 原因分布与复现实验所需的元数据。
type Artifact struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	ConfigHash  string    `json:"config_hash"`
	EngineHash  string    `json:"engine_hash"`
	Execution   string    `json:"execution"`
	StrictMode  bool      `json:"strict_mode"`
	Seed        int64     `json:"seed"`
	FeatureMode string    `json:"feature_mode"`

	Trades       []TradeRecord           `json:"trades"`
	Equity       []float64               `json:"equity"`
	ReasonCounts map[decision.Reason]int `json:"reason_counts"`
	Errors       []BarError              `json:"errors,omitempty"`
	Stats        Stats                   `json:"stats"`
}

// computeStats 由逐笔交易与权益曲线汇总统计量。
func computeStats(trades []TradeRecord, equity []float64, bars, errCount int) Stats {
	st := Stats{Bars: bars, Trades: len(trades)}
	if bars > 0 {
		st.ErrorRate = float64(errCount) / float64(bars)
	}

	grossProfit, grossLoss := 0.0, 0.0
	for _, tr := range trades {
		st.TotalReturn += tr.PnL
		if tr.PnL > 0 {
			st.Wins++
			grossProfit += tr.PnL
		} else {
			grossLoss += -tr.PnL
		}
	}
	if len(trades) > 0 {
		st.WinRate = float64(st.Wins) / float64(len(trades))
	}
	switch {
	case grossLoss > 0:
		st.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		st.ProfitFactor = math.Inf(1)
	}

	peak := math.Inf(-1)
	for _, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if dd := peak - eq; dd > st.MaxDrawdown {
			st.MaxDrawdown = dd
		}
	}
	return st
}
