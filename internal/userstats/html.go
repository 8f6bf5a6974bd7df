package userstats

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// maxChartUsers bounds the bar chart; the CSV output stays complete.
const maxChartUsers = 30

// WriteHTML renders an HTML page with a bar chart of the scores of the top
// maxChartUsers contributors. The page carries no per-kind table; that is
// only in the CSV output.
func WriteHTML(w io.Writer, r *Result, users []UserTable) error {
	top := users
	if len(top) > maxChartUsers {
		top = top[:maxChartUsers]
	}
	names := make([]string, len(top))
	data := make([]opts.BarData, len(top))
	for i, u := range top {
		names[i] = u.Username
		data[i] = opts.BarData{Value: u.Score}
	}

	subtitle := ""
	if r.MinTS != "" {
		subtitle = fmt.Sprintf("%s — %s", r.MinTS, r.MaxTS)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "User statistics", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Contribution scores", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Rotate: 45}}),
	)
	bar.SetXAxis(names).AddSeries("score", data)
	return bar.Render(w)
}
