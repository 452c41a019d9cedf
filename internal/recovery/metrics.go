package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus instruments for the recovery manager.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	state     *prometheus.GaugeVec
	failures  *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
}

// NewMetrics registers recovery instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "measure",
			Subsystem: "recovery",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation key (0=closed, 1=open, 2=half-open).",
		}, []string{"key"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "measure",
			Subsystem: "recovery",
			Name:      "failures_total",
			Help:      "Failed operation attempts by key and error kind.",
		}, []string{"key", "kind"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "measure",
			Subsystem: "recovery",
			Name:      "fallbacks_total",
			Help:      "Fallback executions by key.",
		}, []string{"key"}),
	}
}

func (m *Metrics) observeState(key string, s CircuitState) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(key).Set(float64(s))
}

func (m *Metrics) failure(key string, k Kind) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(key, k.String()).Inc()
}

func (m *Metrics) fallback(key string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(key).Inc()
}
