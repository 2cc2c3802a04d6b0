package stats

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"reflector/internal/model"
)

// WriteFitnessChart renders best and mean fitness per generation as an HTML
// line chart. The y axis is logarithmic when every value is positive.
func WriteFitnessChart(path, runID string, history []model.GenerationRecord) error {
	xAxis := make([]string, 0, len(history))
	best := make([]opts.LineData, 0, len(history))
	mean := make([]opts.LineData, 0, len(history))
	positive := len(history) > 0
	for _, g := range history {
		xAxis = append(xAxis, strconv.Itoa(g.Generation))
		best = append(best, opts.LineData{Value: g.BestFitness})
		mean = append(mean, opts.LineData{Value: g.MeanFitness})
		if g.BestFitness <= 0 || g.MeanFitness <= 0 {
			positive = false
		}
	}

	yAxis := opts.YAxis{
		Name:      "fitness",
		SplitLine: &opts.SplitLine{Show: opts.Bool(true)},
	}
	if positive {
		yAxis.Type = "log"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Fitness for run %s", runID),
			Subtitle: "lower is better",
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "generation"}),
		charts.WithYAxisOpts(yAxis),
	)
	line.SetXAxis(xAxis).
		AddSeries("best", best).
		AddSeries("mean", mean).
		SetSeriesOptions(
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}),
		)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return line.Render(f)
}
