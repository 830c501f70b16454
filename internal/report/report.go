// Package report 把一次回放产物渲染成离线 HTML 报表（权益曲线、
// 回撤曲线与决策原因分布），供人工复盘。
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"genesis/internal/decision"
	"genesis/internal/replay"
)

const (
	colorEquity   = "#3b82f6"
	colorDrawdown = "#f87171"
	colorReason   = "#a78bfa"

	chartWidth  = "1200px"
	chartHeight = "420px"
)

// Write 渲染 artifact 并写入 <root>/<runID>.html，返回落盘路径。
func Write(root, runID, title string, art *replay.Artifact) (string, error) {
	if art == nil {
		return "", fmt.Errorf("artifact 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		equityChart(title, art),
		drawdownChart(art),
		reasonChart(art),
	)
	path := filepath.Join(root, runID+".html")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", err
	}
	return path, nil
}

func barAxis(n int) []string {
	xs := make([]string, n)
	for i := range xs {
		xs[i] = strconv.Itoa(i)
	}
	return xs
}

func equityChart(title string, art *replay.Artifact) *charts.Line {
	line := charts.NewLine()
	subtitle := fmt.Sprintf("trades=%d win_rate=%.1f%% return=%.4f profit_factor=%.2f",
		art.Stats.Trades, art.Stats.WinRate*100, art.Stats.TotalReturn, art.Stats.ProfitFactor)
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: "Equity " + title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	data := make([]opts.LineData, len(art.Equity))
	for i, eq := range art.Equity {
		data[i] = opts.LineData{Value: eq}
	}
	line.SetXAxis(barAxis(len(art.Equity)))
	line.AddSeries("equity", data, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	return line
}

func drawdownChart(art *replay.Artifact) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Drawdown (max %.4f)", art.Stats.MaxDrawdown)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	peak := 0.0
	data := make([]opts.LineData, len(art.Equity))
	for i, eq := range art.Equity {
		if i == 0 || eq > peak {
			peak = eq
		}
		data[i] = opts.LineData{Value: peak - eq}
	}
	line.SetXAxis(barAxis(len(art.Equity)))
	line.AddSeries("drawdown", data, charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}))
	return line
}

func reasonChart(art *replay.Artifact) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: "Decision reasons"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	// 按枚举固定顺序遍历，图例顺序可复现。
	labels := make([]string, 0, len(decision.Reasons))
	data := make([]opts.BarData, 0, len(decision.Reasons))
	for _, reason := range decision.Reasons {
		count, ok := art.ReasonCounts[reason]
		if !ok {
			continue
		}
		labels = append(labels, string(reason))
		data = append(data, opts.BarData{Value: count})
	}
	bar.SetXAxis(labels)
	bar.AddSeries("count", data, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorReason}))
	return bar
}
