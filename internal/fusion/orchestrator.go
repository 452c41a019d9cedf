// Package fusion runs measurement cycles: it queries every source
// concurrently, fuses the available estimates with the configured strategy,
// applies per-user calibration, validates against the rolling history and
// records the cycle with the performance monitor.
//
// Neither Fuse nor Measure ever returns an error. When no source answers the
// cycle resolves to a fixed fallback result graded poor.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/config"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/monitoring"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/perfmon"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/recovery"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/timeutil"
)

// FallbackConfidence is the confidence of the total-failure result.
const FallbackConfidence = 0.3

// ErrInvalidEstimate is returned for estimates with non-finite or
// non-positive lengths.
var ErrInvalidEstimate = errors.New("invalid estimate")

// Query asks one source for its estimate of the current cycle. A nil
// estimate with a nil error means the source has nothing this cycle.
type Query func(ctx context.Context) (*measurement.RawEstimate, error)

// Validator checks a fused result against the rolling history.
type Validator interface {
	Validate(result measurement.FusionResult, history []measurement.FusionResult, cond measurement.Context) measurement.ValidationResult
	SetAdvanced(on bool)
}

// Calibrator applies a user's calibration profile.
type Calibrator interface {
	ApplyCalibration(ctx context.Context, userID string, m measurement.Measurements) (measurement.Measurements, bool)
}

// Monitor observes cycles and recommends degraded settings.
type Monitor interface {
	RecordCycle(d time.Duration, sources int)
	OptimalSettings() perfmon.Settings
}

// Config configures the orchestrator.
type Config struct {
	Strategy             Strategy
	HistorySize          int
	SourceTimeout        time.Duration
	DefaultShoulderWidth float64
	DefaultHeight        float64
	// AutoDegrade applies the monitor's OptimalSettings after every
	// Measure cycle.
	AutoDegrade bool
}

// ConfigFromEngine builds a Config from a loaded EngineConfig. The strategy
// has already been checked by EngineConfig.Validate; an unknown value falls
// back to weighted.
func ConfigFromEngine(cfg *config.EngineConfig) Config {
	strategy, err := ParseStrategy(cfg.GetFusionStrategy())
	if err != nil {
		strategy = StrategyWeighted
	}
	return Config{
		Strategy:             strategy,
		HistorySize:          cfg.GetHistorySize(),
		SourceTimeout:        cfg.GetSourceTimeout(),
		DefaultShoulderWidth: cfg.GetDefaultShoulderWidth(),
		DefaultHeight:        cfg.GetDefaultHeight(),
		AutoDegrade:          cfg.GetAutoDegrade(),
	}
}

// DefaultConfig returns the built-in orchestrator configuration.
func DefaultConfig() Config {
	return ConfigFromEngine(config.EmptyEngineConfig())
}

// Request is one Measure cycle.
type Request struct {
	// UserID selects the calibration profile; empty skips calibration.
	UserID string
	// Context describes acquisition conditions. The zero value is replaced
	// by measurement.IdealContext.
	Context measurement.Context
	Sources map[measurement.SourceID]Query
}

// Outcome is the result of one Measure cycle.
type Outcome struct {
	Result     measurement.FusionResult     `json:"result"`
	Validation measurement.ValidationResult `json:"validation"`
	// Calibrated is true when a user profile was applied.
	Calibrated bool          `json:"calibrated"`
	Duration   time.Duration `json:"duration"`
}

// Orchestrator is safe for concurrent use. Concurrent cycles validate
// against the history as it was when they started and are appended in
// completion order.
type Orchestrator struct {
	cfg        Config
	recovery   *recovery.Manager
	validator  Validator
	calibrator Calibrator
	monitor    Monitor
	clock      timeutil.Clock
	metrics    *Metrics
	log        *logrus.Entry

	mu       sync.Mutex
	history  *measurement.Ring[measurement.FusionResult]
	settings perfmon.Settings
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRecovery routes every source query through m with key "source:<id>".
func WithRecovery(m *recovery.Manager) Option {
	return func(o *Orchestrator) { o.recovery = m }
}

// WithValidator enables validation in Measure.
func WithValidator(v Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// WithCalibrator enables per-user calibration in Measure.
func WithCalibrator(c Calibrator) Option {
	return func(o *Orchestrator) { o.calibrator = c }
}

// WithMonitor records every Measure cycle.
func WithMonitor(m Monitor) Option {
	return func(o *Orchestrator) { o.monitor = m }
}

// WithClock replaces the wall clock.
func WithClock(c timeutil.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator.
func New(cfg Config, opts ...Option) *Orchestrator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyWeighted
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultConfig().SourceTimeout
	}
	o := &Orchestrator{
		cfg:     cfg,
		clock:   timeutil.RealClock{},
		log:     monitoring.Component("fusion"),
		history: measurement.NewRing[measurement.FusionResult](cfg.HistorySize),
		settings: perfmon.Settings{
			HistorySize:              cfg.HistorySize,
			EnableAdvancedValidation: true,
			Reasons:                  []string{},
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the orchestrator configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Fuse runs one bare fusion cycle: query, combine and append to history.
func (o *Orchestrator) Fuse(ctx context.Context, sources map[measurement.SourceID]Query) measurement.FusionResult {
	r := o.fuse(ctx, sources)
	o.record(r)
	return r
}

// Measure runs the full pipeline for one cycle.
func (o *Orchestrator) Measure(ctx context.Context, req Request) Outcome {
	start := o.clock.Now()
	cond := req.Context
	if cond == (measurement.Context{}) {
		cond = measurement.IdealContext()
	}

	history := o.History()
	r := o.fuse(ctx, req.Sources)

	var out Outcome
	if o.calibrator != nil && req.UserID != "" && !r.IsFallback() {
		m, ok := o.calibrator.ApplyCalibration(ctx, req.UserID, r.Measurements)
		if ok {
			m.Confidence = measurement.Clamp01(m.Confidence)
			r.Measurements = m
			out.Calibrated = true
		}
	}

	if o.validator != nil {
		out.Validation = o.validator.Validate(r, history, cond)
	} else {
		out.Validation = measurement.ValidationResult{
			IsValid:         true,
			Confidence:      r.Measurements.Confidence,
			Anomalies:       []measurement.Anomaly{},
			Patterns:        []measurement.Pattern{},
			Recommendations: []string{},
		}
	}
	r.Quality = measurement.GradeQuality(r.Measurements.Confidence, out.Validation.Anomalies)
	out.Validation.Quality = r.Quality
	out.Result = r

	o.record(r)
	out.Duration = o.clock.Since(start)

	if o.monitor != nil {
		o.monitor.RecordCycle(out.Duration, r.SourceCount)
		if o.cfg.AutoDegrade {
			o.ApplySettings(o.monitor.OptimalSettings())
		}
	}

	o.log.WithFields(logrus.Fields{
		"cycle":      r.CycleID.String(),
		"source":     r.Source,
		"quality":    r.Quality.String(),
		"valid":      out.Validation.IsValid,
		"calibrated": out.Calibrated,
	}).Debug("cycle complete")
	return out
}

func (o *Orchestrator) fuse(ctx context.Context, sources map[measurement.SourceID]Query) measurement.FusionResult {
	ids := make([]measurement.SourceID, 0, len(sources))
	for id, q := range sources {
		if q != nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	o.mu.Lock()
	limit := o.settings.MaxSources
	o.mu.Unlock()
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	answers := make([]*measurement.RawEstimate, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			answers[i] = o.query(gctx, id, sources[id])
			return nil
		})
	}
	_ = g.Wait()

	ests := make([]measurement.RawEstimate, 0, len(ids))
	for _, a := range answers {
		if a != nil {
			ests = append(ests, *a)
		}
	}

	if len(ests) == 0 {
		o.log.WithField("queried", len(ids)).Warn("no source answered, using fallback result")
		return o.fallback()
	}

	m, label := combine(o.cfg.Strategy, ests)
	return measurement.FusionResult{
		CycleID:      uuid.New(),
		Measurements: m,
		Source:       label,
		SourceCount:  len(ests),
		Quality:      measurement.GradeConfidence(m.Confidence),
		Timestamp:    o.clock.Now(),
	}
}

// query runs one source under the source timeout. It returns nil when the
// source is unavailable for this cycle.
func (o *Orchestrator) query(ctx context.Context, id measurement.SourceID, q Query) *measurement.RawEstimate {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SourceTimeout)
	defer cancel()

	est, out := recovery.Run(ctx, o.recovery, "source:"+string(id), guard(q))
	if est == nil {
		if out.Err != nil {
			o.log.WithFields(logrus.Fields{
				"source":   string(id),
				"attempts": out.Attempts,
				"state":    out.State.String(),
			}).WithError(out.Err).Debug("source unavailable")
		}
		o.metrics.source(id, false)
		return nil
	}
	if err := checkEstimate(*est); err != nil {
		o.metrics.source(id, false)
		return nil
	}

	e := *est
	e.Source = id
	e.Confidence = measurement.Clamp01(e.Confidence)
	if e.Timestamp.IsZero() {
		e.Timestamp = o.clock.Now()
	}
	o.metrics.source(id, true)
	return &e
}

// guard makes a query panic-safe and bounded by ctx even when the source
// itself ignores cancellation. Invalid estimates are reported as
// recoverable failures so repeated garbage opens the breaker.
func guard(q Query) func(context.Context) (*measurement.RawEstimate, error) {
	type answer struct {
		est *measurement.RawEstimate
		err error
	}
	return func(ctx context.Context) (*measurement.RawEstimate, error) {
		ch := make(chan answer, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					ch <- answer{err: recovery.Recoverable("source query", fmt.Errorf("panic: %v", r))}
				}
			}()
			est, err := q(ctx)
			ch <- answer{est: est, err: err}
		}()

		select {
		case a := <-ch:
			if a.err != nil {
				return nil, a.err
			}
			if a.est != nil {
				if err := checkEstimate(*a.est); err != nil {
					return nil, recovery.Recoverable("source query", err)
				}
			}
			return a.est, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func checkEstimate(e measurement.RawEstimate) error {
	for _, v := range []float64{e.ShoulderWidth, e.Height, e.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidEstimate)
		}
	}
	if e.ShoulderWidth <= 0 || e.Height <= 0 {
		return fmt.Errorf("%w: shoulder width %.2f, height %.2f", ErrInvalidEstimate, e.ShoulderWidth, e.Height)
	}
	return nil
}

// fallback is the total-failure result.
func (o *Orchestrator) fallback() measurement.FusionResult {
	return measurement.FusionResult{
		CycleID: uuid.New(),
		Measurements: measurement.Measurements{
			ShoulderWidth: o.cfg.DefaultShoulderWidth,
			Height:        o.cfg.DefaultHeight,
			Confidence:    FallbackConfidence,
		},
		Source:    measurement.SourceFallback,
		Quality:   measurement.QualityPoor,
		Timestamp: o.clock.Now(),
	}
}

func (o *Orchestrator) record(r measurement.FusionResult) {
	o.mu.Lock()
	o.history.Push(r)
	o.mu.Unlock()
	o.metrics.cycle(r)
}

// History returns the fusion history, oldest first.
func (o *Orchestrator) History() []measurement.FusionResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history.Items()
}

// HistoryCap returns the current history capacity.
func (o *Orchestrator) HistoryCap() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history.Cap()
}

// Settings returns the settings last applied.
func (o *Orchestrator) Settings() perfmon.Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.settings
	s.Reasons = slices.Clone(s.Reasons)
	return s
}

// ApplySettings switches the orchestrator to s: the history is resized
// (keeping the newest entries), the per-cycle source count is capped and
// advanced validation is toggled. A zero HistorySize keeps the current
// capacity.
func (o *Orchestrator) ApplySettings(s perfmon.Settings) {
	o.mu.Lock()
	wasDegraded := o.settings.Degraded()
	if s.HistorySize > 0 && s.HistorySize != o.history.Cap() {
		o.history.Resize(s.HistorySize)
	}
	s.Reasons = slices.Clone(s.Reasons)
	o.settings = s
	o.mu.Unlock()

	if o.validator != nil {
		o.validator.SetAdvanced(s.EnableAdvancedValidation)
	}

	switch {
	case s.Degraded() && !wasDegraded:
		o.log.WithField("reasons", s.Reasons).Warn("entering degraded mode")
	case !s.Degraded() && wasDegraded:
		o.log.Info("leaving degraded mode")
	}
}
