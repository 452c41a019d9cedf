package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/httputil"
)

// historyChart renders the fused history as two line charts: dimensions in
// cm and confidence in [0,1].
func (s *Server) historyChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	history := s.deps.Orchestrator.History()

	x := make([]string, len(history))
	sw := make([]opts.LineData, len(history))
	h := make([]opts.LineData, len(history))
	conf := make([]opts.LineData, len(history))
	for i, res := range history {
		x[i] = res.Timestamp.Format("15:04:05.000")
		sw[i] = opts.LineData{Value: res.Measurements.ShoulderWidth, Name: res.Source}
		h[i] = opts.LineData{Value: res.Measurements.Height, Name: res.Source}
		conf[i] = opts.LineData{Value: res.Measurements.Confidence, Name: res.Quality.String()}
	}
	subtitle := fmt.Sprintf("%d of %d results", len(history), s.deps.Orchestrator.HistoryCap())
	if len(history) > 0 {
		subtitle += ", latest " + history[len(history)-1].Timestamp.Format(time.RFC3339)
	}

	dims := charts.NewLine()
	dims.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Measurement History", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Fused measurements (cm)", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	dims.SetXAxis(x).
		AddSeries("shoulder width", sw).
		AddSeries("height", h)

	confidence := charts.NewLine()
	confidence.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Confidence"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	confidence.SetXAxis(x).AddSeries("confidence", conf)

	page := components.NewPage()
	page.AddCharts(dims, confidence)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
