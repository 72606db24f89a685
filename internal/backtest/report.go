package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	colorEquity    = "#3b82f6"
	colorBenchmark = "#9ca3af"
	colorDrawdown  = "#f87171"
)

// RenderReport 把一次回测的资金曲线与回撤渲染成单页 HTML。
func RenderReport(w io.Writer, run Run, snapshots []Snapshot, benchmark []Snapshot) error {
	if len(snapshots) == 0 {
		return fmt.Errorf("没有资金曲线可渲染")
	}
	xAxis := make([]string, 0, len(snapshots))
	equity := make([]opts.LineData, 0, len(snapshots))
	drawdown := make([]opts.LineData, 0, len(snapshots))
	for _, sn := range snapshots {
		xAxis = append(xAxis, time.UnixMilli(sn.TS).Format("2006-01-02"))
		equity = append(equity, opts.LineData{Value: sn.Equity})
		drawdown = append(drawdown, opts.LineData{Value: -sn.Drawdown * 100})
	}

	equityLine := charts.NewLine()
	equityLine.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Run %s", run.ID),
			Subtitle: fmt.Sprintf("收益 %.2f%% | Sharpe %.2f | 最大回撤 %.2f%%", run.Metrics.TotalReturn*100, run.Metrics.Sharpe, run.Metrics.MaxDrawdown*100),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	equityLine.SetXAxis(xAxis)
	equityLine.AddSeries("Equity", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	if len(benchmark) > 0 {
		bench := make([]opts.LineData, 0, len(benchmark))
		for _, sn := range benchmark {
			bench = append(bench, opts.LineData{Value: sn.Equity})
		}
		equityLine.AddSeries("Benchmark", bench, charts.WithLineStyleOpts(opts.LineStyle{Color: colorBenchmark, Width: 1}))
	}

	ddLine := charts.NewLine()
	ddLine.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Drawdown (%)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	ddLine.SetXAxis(xAxis)
	ddLine.AddSeries("Drawdown", drawdown, charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3)}))

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityLine, ddLine)
	return page.Render(w)
}

// BenchmarkSnapshots 把基准资金曲线转成快照序列，便于与主曲线共用渲染。
func BenchmarkSnapshots(res *Result) []Snapshot {
	out := make([]Snapshot, 0, len(res.Benchmark))
	for _, p := range res.Benchmark {
		out = append(out, Snapshot{TS: p.Timestamp.UnixMilli(), Equity: p.Equity})
	}
	return out
}
