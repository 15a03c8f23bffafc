package price

import (
	"bytes"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/dercontrol/core/policy"
)

// ChartHTML renders the prices as a standalone HTML line chart.
func ChartHTML(points []policy.PricePoint) (string, error) {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Spot price"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "EUR/MWh"}),
	)
	xAxis := make([]string, 0, len(points))
	yAxis := make([]opts.LineData, 0, len(points))
	for _, pt := range points {
		xAxis = append(xAxis, pt.Start.Format("2006-01-02 15:04"))
		yAxis = append(yAxis, opts.LineData{Value: pt.EURPerMWh})
	}
	line.SetXAxis(xAxis).AddSeries("Price", yAxis)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return "", fmt.Errorf("failed to render chart: %w", err)
	}
	return buf.String(), nil
}
