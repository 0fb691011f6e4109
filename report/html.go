// Package report renders a self-contained HTML analysis report for one
// detector run.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/moussaba/dhikr-counter/pinchsense"
)

// maxChartPoints bounds the rendered series so long sessions stay
// responsive in the browser; the series is decimated, events are not.
const maxChartPoints = 8000

// WriteHTML renders the score/threshold chart with event markers plus a
// summary header into an HTML file.
func WriteHTML(res *pinchsense.Result, path string) error {
	page := components.NewPage()
	page.PageTitle = "Pinch detection report"

	page.AddCharts(scoreChart(res))
	if res.DetectorType == pinchsense.DetectorStationary && res.Components != nil {
		page.AddCharts(componentChart(res))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return page.Render(f)
}

func scoreChart(res *pinchsense.Result) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s detector - %d events", res.DetectorType, len(res.Events)),
			Subtitle: fmt.Sprintf("%s | %.1f Hz | %.1f s",
				filepath.Base(res.Stream.Filepath), res.Stream.FS, res.Stream.Duration()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "fusion score"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	t := res.Stream.Time
	step := len(t)/maxChartPoints + 1

	var xs []string
	var scoreData, thrData []opts.LineData
	for i := 0; i < len(t); i += step {
		xs = append(xs, fmt.Sprintf("%.2f", t[i]))
		scoreData = append(scoreData, opts.LineData{Value: res.Score[i]})
		thrData = append(thrData, opts.LineData{Value: res.Threshold[i]})
	}

	line.SetXAxis(xs).
		AddSeries("score", scoreData).
		AddSeries("threshold", thrData)

	if len(res.Events) > 0 {
		scatter := charts.NewScatter()
		var evData []opts.ScatterData
		var evXs []string
		for _, ev := range res.Events {
			evXs = append(evXs, fmt.Sprintf("%.2f", ev.Time))
			evData = append(evData, opts.ScatterData{Value: ev.Score, SymbolSize: 12})
		}
		scatter.SetXAxis(evXs).AddSeries("events", evData)
		line.Overlap(scatter)
	}
	return line
}

func componentChart(res *pinchsense.Result) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "z-score components"}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	t := res.Stream.Time
	step := len(t)/maxChartPoints + 1
	c := res.Components

	var xs []string
	var za, zg, zda, zdg []opts.LineData
	for i := 0; i < len(t); i += step {
		xs = append(xs, fmt.Sprintf("%.2f", t[i]))
		za = append(za, opts.LineData{Value: c.ZA[i]})
		zg = append(zg, opts.LineData{Value: c.ZG[i]})
		zda = append(zda, opts.LineData{Value: c.ZDA[i]})
		zdg = append(zdg, opts.LineData{Value: c.ZDG[i]})
	}

	line.SetXAxis(xs).
		AddSeries("z_a", za).
		AddSeries("z_g", zg).
		AddSeries("z_da", zda).
		AddSeries("z_dg", zdg)
	return line
}
