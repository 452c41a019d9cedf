// Package api serves the engine's diagnostics surface: fusion history and
// on-demand cycles, performance and breaker state, calibration feedback and
// statistics, validation training state, an HTML history chart, Prometheus
// metrics and the tsweb debug pages.
package api

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fusion"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/monitoring"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/perfmon"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/recovery"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/validation"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// ModelUpdateKey is the recovery key wrapping feedback learning.
const ModelUpdateKey = "model-update"

// SourceProvider supplies the source queries and acquisition context for
// the next on-demand cycle.
type SourceProvider interface {
	Next() (map[measurement.SourceID]fusion.Query, measurement.Context)
}

// SourceFunc adapts a function into a SourceProvider.
type SourceFunc func() (map[measurement.SourceID]fusion.Query, measurement.Context)

func (f SourceFunc) Next() (map[measurement.SourceID]fusion.Query, measurement.Context) { return f() }

// Deps are the engine components the server reports on. Only Orchestrator
// is required; routes for missing components answer 503.
type Deps struct {
	Orchestrator *fusion.Orchestrator
	Validator    *validation.Validator
	Calibration  *calibration.Engine
	Monitor      *perfmon.Monitor
	Recovery     *recovery.Manager
	Sources      SourceProvider
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// DB is the calibration database exposed through /debug/tailsql/.
	DB *sql.DB
}

type Server struct {
	deps Deps
	log  *logrus.Entry
}

func NewServer(deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps, log: monitoring.Component("api")}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux registers every route. The debug pages are attached when a
// calibration database is configured.
func (s *Server) ServeMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", s.showHistory)
	mux.HandleFunc("/api/measure", s.measure)
	mux.HandleFunc("/api/performance", s.showPerformance)
	mux.HandleFunc("/api/breakers", s.showBreakers)
	mux.HandleFunc("/api/breakers/reset", s.resetBreaker)
	mux.HandleFunc("/api/calibration/profile", s.showProfile)
	mux.HandleFunc("/api/calibration/session", s.calibrationSession)
	mux.HandleFunc("/api/calibration/stats", s.showCalibrationStats)
	mux.HandleFunc("/api/calibration/suggestions", s.showCalibrationSuggestions)
	mux.HandleFunc("/api/calibration/feedback", s.submitFeedback)
	mux.HandleFunc("/api/validation/training", s.showTraining)
	mux.HandleFunc("/charts/history", s.historyChart)
	mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	if s.deps.DB != nil {
		if err := s.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}
