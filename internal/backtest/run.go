package backtest

import (
	"time"

	"genesis/internal/replay"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Symbol    string `json:"symbol" binding:"required"`
	Timeframe string `json:"timeframe" binding:"required"`
	Start     int64  `json:"start" binding:"required"`
	End       int64  `json:"end" binding:"required"`
	Notes     string `json:"notes,omitempty"`
}

// Run 表示一次回放任务；Artifact 在任务完成前为 nil。
type Run struct {
	ID          string           `json:"id"`
	Symbol      string           `json:"symbol"`
	Timeframe   string           `json:"timeframe"`
	Status      string           `json:"status"`
	StartTS     int64            `json:"start_ts"`
	EndTS       int64            `json:"end_ts"`
	ConfigHash  string           `json:"config_hash,omitempty"`
	EngineHash  string           `json:"engine_hash,omitempty"`
	Execution   string           `json:"execution,omitempty"`
	Trades      int              `json:"trades"`
	WinRate     float64          `json:"win_rate"`
	TotalReturn float64          `json:"total_return"`
	MaxDrawdown float64          `json:"max_drawdown"`
	Message     string           `json:"message,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	ReportPath  string           `json:"report_path,omitempty"`
	Artifact    *replay.Artifact `json:"artifact,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
}

// applyArtifact 把回放产物摘要写回 run 概览字段。
func (r *Run) applyArtifact(art *replay.Artifact) {
	if art == nil {
		return
	}
	r.Artifact = art
	r.ConfigHash = art.ConfigHash
	r.EngineHash = art.EngineHash
	r.Execution = art.FeatureMode
	r.Trades = art.Stats.Trades
	r.WinRate = art.Stats.WinRate
	r.TotalReturn = art.Stats.TotalReturn
	r.MaxDrawdown = art.Stats.MaxDrawdown
}
