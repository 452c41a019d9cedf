package fusion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// Metrics holds Prometheus instruments for the orchestrator. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	cycles  *prometheus.CounterVec
	sources *prometheus.CounterVec
}

// NewMetrics registers fusion instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "measure",
			Subsystem: "fusion",
			Name:      "cycles_total",
			Help:      "Fusion cycles by result kind (fusion, single, fallback) and quality.",
		}, []string{"kind", "quality"}),
		sources: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "measure",
			Subsystem: "fusion",
			Name:      "source_queries_total",
			Help:      "Source queries by source id and whether an estimate was returned.",
		}, []string{"source", "available"}),
	}
}

func resultKind(r measurement.FusionResult) string {
	switch r.Source {
	case measurement.SourceFusion, measurement.SourceFallback:
		return r.Source
	default:
		return "single"
	}
}

func (m *Metrics) cycle(r measurement.FusionResult) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(resultKind(r), r.Quality.String()).Inc()
}

func (m *Metrics) source(id measurement.SourceID, ok bool) {
	if m == nil {
		return
	}
	available := "false"
	if ok {
		available = "true"
	}
	m.sources.WithLabelValues(string(id), available).Inc()
}
