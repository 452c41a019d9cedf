package validation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// Metrics holds Prometheus instruments for validation. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	anomalies *prometheus.CounterVec
	results   *prometheus.CounterVec
	score     prometheus.Histogram
}

// NewMetrics registers validation instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "measure",
			Subsystem: "validation",
			Name:      "anomalies_total",
			Help:      "Detected anomalies by type and severity.",
		}, []string{"type", "severity"}),
		results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "measure",
			Subsystem: "validation",
			Name:      "results_total",
			Help:      "Validation results by validity.",
		}, []string{"valid"}),
		score: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "measure",
			Subsystem: "validation",
			Name:      "score",
			Help:      "Combined validation score.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}

func (m *Metrics) observe(r measurement.ValidationResult) {
	if m == nil {
		return
	}
	for _, a := range r.Anomalies {
		m.anomalies.WithLabelValues(string(a.Type), a.Severity.String()).Inc()
	}
	valid := "false"
	if r.IsValid {
		valid = "true"
	}
	m.results.WithLabelValues(valid).Inc()
	m.score.Observe(r.Confidence)
}
