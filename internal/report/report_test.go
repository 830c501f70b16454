package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis/internal/decision"
	"genesis/internal/replay"
)

func sampleArtifact() *replay.Artifact {
	return &replay.Artifact{
		RunID:      "run-report-test",
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		Trades: []replay.TradeRecord{
			{EntryBar: 10, ExitBar: 20, EntryPrice: 100, ExitPrice: 103, Size: 0.5, PnL: 0.014, Commission: 0.001},
		},
		Equity: []float64{0, 0.01, 0.005, 0.015},
		ReasonCounts: map[decision.Reason]int{
			decision.ReasonOK:         3,
			decision.ReasonProbaBlock: 12,
		},
		Stats: replay.Stats{Bars: 4, Trades: 1, Wins: 1, WinRate: 1, TotalReturn: 0.014},
	}
}

func TestWriteRendersAllCharts(t *testing.T) {
	root := t.TempDir()
	path, err := Write(root, "run-report-test", "BTCUSDT 1m", sampleArtifact())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "run-report-test.html"), path)

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(buf)
	assert.Contains(t, html, "equity")
	assert.Contains(t, html, "drawdown")
	assert.Contains(t, html, "Decision reasons")
	assert.Contains(t, html, string(decision.ReasonProbaBlock))
}

func TestWriteRejectsNilArtifact(t *testing.T) {
	_, err := Write(t.TempDir(), "x", "t", nil)
	require.Error(t, err)
}
