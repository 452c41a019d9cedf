// Package perfmon records per-cycle resource metrics in a bounded ring,
// summarises them into rolling stats with a trend, and derives advisory
// degraded-mode settings. It never changes engine behaviour itself; the
// fusion orchestrator decides whether to apply OptimalSettings.
package perfmon

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/config"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/timeutil"
)

// trendBand is the relative change in average frame time between windows
// below which the trend is stable.
const trendBand = 0.10

// Metrics is one cycle's resource sample.
type Metrics struct {
	FrameProcessingTime time.Duration `json:"frame_processing_time"`
	MemoryMB            float64       `json:"memory_mb"`
	// BatteryLevel is in [0,1].
	BatteryLevel float64   `json:"battery_level"`
	SourceCount  int       `json:"source_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// Stats are rolling aggregates over the buffered samples.
type Stats struct {
	Samples      int               `json:"samples"`
	AvgFrameTime time.Duration     `json:"avg_frame_time"`
	MaxFrameTime time.Duration     `json:"max_frame_time"`
	AvgMemoryMB  float64           `json:"avg_memory_mb"`
	AvgBattery   float64           `json:"avg_battery"`
	AvgSources   float64           `json:"avg_sources"`
	Latest       Metrics           `json:"latest"`
	Trend        measurement.Trend `json:"trend"`
}

// Config sizes the monitor.
type Config struct {
	BufferSize  int
	TrendWindow int
	Thresholds  Thresholds
}

// ConfigFromEngine builds a Config from a loaded EngineConfig.
func ConfigFromEngine(cfg *config.EngineConfig) Config {
	return Config{
		BufferSize:  cfg.GetPerfBufferSize(),
		TrendWindow: cfg.GetTrendWindow(),
		Thresholds:  ThresholdsFromEngine(cfg),
	}
}

// DefaultConfig returns the built-in monitor configuration.
func DefaultConfig() Config {
	return ConfigFromEngine(config.EmptyEngineConfig())
}

// Monitor is safe for concurrent use.
type Monitor struct {
	cfg    Config
	probe  ResourceProbe
	clock  timeutil.Clock
	export *Exporter

	mu      sync.Mutex
	samples *measurement.Ring[Metrics]
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithProbe sets the source of memory and battery readings for RecordCycle.
func WithProbe(p ResourceProbe) Option {
	return func(m *Monitor) { m.probe = p }
}

// WithClock replaces the wall clock.
func WithClock(c timeutil.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithExporter publishes every recorded sample to Prometheus.
func WithExporter(e *Exporter) Option {
	return func(m *Monitor) { m.export = e }
}

// New creates a Monitor.
func New(cfg Config, opts ...Option) *Monitor {
	if cfg.TrendWindow < 1 {
		cfg.TrendWindow = 1
	}
	m := &Monitor{
		cfg:     cfg,
		probe:   RuntimeProbe{},
		clock:   timeutil.RealClock{},
		samples: measurement.NewRing[Metrics](cfg.BufferSize),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Thresholds returns the limits used by OptimalSettings.
func (m *Monitor) Thresholds() Thresholds { return m.cfg.Thresholds }

// Record appends a sample, evicting the oldest past the buffer size.
func (m *Monitor) Record(s Metrics) {
	if s.Timestamp.IsZero() {
		s.Timestamp = m.clock.Now()
	}
	m.mu.Lock()
	m.samples.Push(s)
	m.mu.Unlock()
	m.export.observe(s, m.Stats())
}

// RecordCycle records a fusion cycle's duration and source count, filling
// memory and battery from the probe.
func (m *Monitor) RecordCycle(d time.Duration, sources int) {
	m.Record(Metrics{
		FrameProcessingTime: d,
		MemoryMB:            m.probe.MemoryMB(),
		BatteryLevel:        m.probe.BatteryLevel(),
		SourceCount:         sources,
		Timestamp:           m.clock.Now(),
	})
}

// Samples returns the buffered samples, oldest first.
func (m *Monitor) Samples() []Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples.Items()
}

// Reset drops all samples.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples.Reset()
}

// Stats computes rolling averages over the buffer and the frame time trend.
func (m *Monitor) Stats() Stats {
	return Summarise(m.Samples(), m.cfg.TrendWindow)
}

// OptimalSettings is OptimalSettings(m.Stats(), m.Thresholds()).
func (m *Monitor) OptimalSettings() Settings {
	return OptimalSettings(m.Stats(), m.cfg.Thresholds)
}

// Summarise aggregates samples (oldest first). The trend compares the mean
// frame time of the newest window with the window before it.
func Summarise(samples []Metrics, window int) Stats {
	st := Stats{Samples: len(samples), Trend: measurement.TrendStable}
	if len(samples) == 0 {
		return st
	}
	frames := make([]float64, len(samples))
	mem := make([]float64, len(samples))
	batt := make([]float64, len(samples))
	srcs := make([]float64, len(samples))
	for i, s := range samples {
		frames[i] = float64(s.FrameProcessingTime)
		mem[i] = s.MemoryMB
		batt[i] = s.BatteryLevel
		srcs[i] = float64(s.SourceCount)
		if s.FrameProcessingTime > st.MaxFrameTime {
			st.MaxFrameTime = s.FrameProcessingTime
		}
	}
	st.AvgFrameTime = time.Duration(stat.Mean(frames, nil))
	st.AvgMemoryMB = stat.Mean(mem, nil)
	st.AvgBattery = stat.Mean(batt, nil)
	st.AvgSources = stat.Mean(srcs, nil)
	st.Latest = samples[len(samples)-1]
	st.Trend = frameTrend(frames, window)
	return st
}

func frameTrend(frames []float64, window int) measurement.Trend {
	if window < 1 || len(frames) < 2*window {
		return measurement.TrendStable
	}
	n := len(frames)
	recent := stat.Mean(frames[n-window:], nil)
	previous := stat.Mean(frames[n-2*window:n-window], nil)
	if previous <= 0 {
		return measurement.TrendStable
	}
	switch change := (recent - previous) / previous; {
	case change < -trendBand:
		return measurement.TrendImproving
	case change > trendBand:
		return measurement.TrendDegrading
	default:
		return measurement.TrendStable
	}
}
