package perfmon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exporter publishes samples and rolling stats as Prometheus gauges.
// A nil *Exporter is valid and records nothing.
type Exporter struct {
	frameSeconds    prometheus.Gauge
	avgFrameSeconds prometheus.Gauge
	memoryMB        prometheus.Gauge
	battery         prometheus.Gauge
	sources         prometheus.Gauge
	frameHist       prometheus.Histogram
}

// NewExporter registers perfmon instruments with reg.
func NewExporter(reg prometheus.Registerer) *Exporter {
	f := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: "measure", Subsystem: "perf", Name: name, Help: help})
	}
	return &Exporter{
		frameSeconds:    gauge("frame_seconds", "Latest fusion cycle processing time."),
		avgFrameSeconds: gauge("frame_seconds_avg", "Rolling average fusion cycle processing time."),
		memoryMB:        gauge("memory_mb", "Latest memory reading in MiB."),
		battery:         gauge("battery_level", "Latest battery level (0-1)."),
		sources:         gauge("sources", "Sources that answered in the latest cycle."),
		frameHist: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "measure",
			Subsystem: "perf",
			Name:      "frame_duration_seconds",
			Help:      "Distribution of fusion cycle processing times.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}
}

func (e *Exporter) observe(s Metrics, st Stats) {
	if e == nil {
		return
	}
	e.frameSeconds.Set(s.FrameProcessingTime.Seconds())
	e.avgFrameSeconds.Set(st.AvgFrameTime.Seconds())
	e.memoryMB.Set(s.MemoryMB)
	e.battery.Set(s.BatteryLevel)
	e.sources.Set(float64(s.SourceCount))
	e.frameHist.Observe(s.FrameProcessingTime.Seconds())
}
