// Package validation judges a fused measurement against its recent history
// and acquisition context. It raises typed anomalies, recognises patterns in
// the series, combines pluggable scorers into a single score and turns the
// findings into user-facing recommendations.
//
// The learned scorer can be nudged online with TrainWithFeedback; everything
// else is a pure function of the inputs.
package validation

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/config"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/monitoring"
)

// Config holds detector thresholds and training parameters.
type Config struct {
	ConfidenceThreshold float64

	MinHistory      int
	StatWindow      int
	ZScoreThreshold float64
	ZScoreHigh      float64

	TemporalWindow    int
	TemporalRatio     float64
	MinTemporalChange float64

	RatioMin       float64
	RatioMax       float64
	RatioTolerance float64

	TrainingCap  int
	LearningRate float64

	// Advanced enables pattern recognition and the learned scorer.
	Advanced bool
}

// DefaultConfig returns the built-in thresholds with advanced validation on.
func DefaultConfig() Config {
	return ConfigFromEngine(config.EmptyEngineConfig())
}

// ConfigFromEngine builds a Config from a loaded EngineConfig.
func ConfigFromEngine(cfg *config.EngineConfig) Config {
	return Config{
		ConfidenceThreshold: cfg.GetConfidenceThreshold(),
		MinHistory:          cfg.GetMinHistory(),
		StatWindow:          cfg.GetStatWindow(),
		ZScoreThreshold:     cfg.GetZScoreThreshold(),
		ZScoreHigh:          cfg.GetZScoreHigh(),
		TemporalWindow:      cfg.GetTemporalWindow(),
		TemporalRatio:       cfg.GetTemporalRatio(),
		MinTemporalChange:   cfg.GetMinTemporalChange(),
		RatioMin:            cfg.GetRatioMin(),
		RatioMax:            cfg.GetRatioMax(),
		RatioTolerance:      cfg.GetRatioTolerance(),
		TrainingCap:         cfg.GetTrainingCap(),
		LearningRate:        cfg.GetValidationLearningRate(),
		Advanced:            true,
	}
}

// weighted pairs a scorer with its weight in the combined score.
type weighted struct {
	scorer   Scorer
	weight   float64
	advanced bool
}

// Validator runs the detectors and scorers. It is safe for concurrent use.
type Validator struct {
	cfg     Config
	log     *logrus.Entry
	metrics *Metrics

	mu       sync.RWMutex
	advanced bool
	scorers  []weighted
	model    *LogisticModel
	training *measurement.Ring[trainingRecord]
	updates  int
}

// Option customises a Validator.
type Option func(*Validator)

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithModel replaces the initial learned model.
func WithModel(m *LogisticModel) Option {
	return func(v *Validator) { v.model = m }
}

// New creates a Validator with the built-in scorers registered.
func New(cfg Config, opts ...Option) *Validator {
	v := &Validator{
		cfg:      cfg,
		log:      monitoring.Component("validation"),
		advanced: cfg.Advanced,
		model:    NewLogisticModel(),
		training: measurement.NewRing[trainingRecord](cfg.TrainingCap),
	}
	for _, o := range opts {
		o(v)
	}
	v.scorers = []weighted{
		{scorer: ConfidenceScorer{}, weight: 0.35},
		{scorer: ConsistencyScorer{}, weight: 0.2},
		{scorer: ProportionScorer{}, weight: 0.25},
		{scorer: ContextScorer{}, weight: 0.2},
		{scorer: learnedScorer{v}, weight: 0.2, advanced: true},
	}
	return v
}

// Config returns the validator configuration.
func (v *Validator) Config() Config { return v.cfg }

// AddScorer registers an extra scorer. Non-positive weights are ignored.
func (v *Validator) AddScorer(s Scorer, weight float64) {
	if s == nil || weight <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scorers = append(v.scorers, weighted{scorer: s, weight: weight})
}

// SetAdvanced toggles pattern recognition and the learned scorer. The fusion
// orchestrator turns it off in degraded mode.
func (v *Validator) SetAdvanced(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advanced = on
}

// Advanced reports whether advanced validation is enabled.
func (v *Validator) Advanced() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.advanced
}

// Validate checks result against history (oldest first, not including
// result) under the given acquisition conditions. Fallback entries in history
// carry no observation and are ignored. A fallback result is only checked
// against its context: its dimensions are configured defaults, not a body.
func (v *Validator) Validate(result measurement.FusionResult, history []measurement.FusionResult, cond measurement.Context) measurement.ValidationResult {
	series := observed(history)
	cur := result.Measurements

	var anomalies []measurement.Anomaly
	if !result.IsFallback() {
		anomalies = append(anomalies, v.statistical(cur, series)...)
		anomalies = append(anomalies, v.temporal(cur, series)...)
		anomalies = append(anomalies, v.proportional(cur)...)
	}
	anomalies = append(anomalies, contextual(cond)...)

	v.mu.RLock()
	advanced := v.advanced
	scorers := make([]weighted, len(v.scorers))
	copy(scorers, v.scorers)
	v.mu.RUnlock()

	var patterns []measurement.Pattern
	if advanced {
		patterns = recognise(append(series[:len(series):len(series)], cur))
	}

	f := Features{
		Current:  cur,
		History:  series,
		Context:  cond,
		RatioMin: v.cfg.RatioMin,
		RatioMax: v.cfg.RatioMax,
	}
	score, scores := combine(f, scorers, advanced, anomalies)

	worst, found := measurement.MaxSeverity(anomalies)
	valid := score >= v.cfg.ConfidenceThreshold && !(found && worst >= measurement.SeverityHigh)

	out := measurement.ValidationResult{
		IsValid:         valid,
		Confidence:      score,
		Anomalies:       anomalies,
		Patterns:        patterns,
		Quality:         measurement.GradeQuality(cur.Confidence, anomalies),
		Recommendations: recommend(anomalies, cond, valid),
		Scores:          scores,
	}
	if out.Anomalies == nil {
		out.Anomalies = []measurement.Anomaly{}
	}
	if out.Patterns == nil {
		out.Patterns = []measurement.Pattern{}
	}

	v.metrics.observe(out)
	if len(anomalies) > 0 {
		v.log.WithFields(logrus.Fields{
			"cycle":     result.CycleID.String(),
			"anomalies": len(anomalies),
			"valid":     valid,
		}).Debug("anomalies detected")
	}
	return out
}

// observed extracts the numeric series from history, skipping fallbacks.
func observed(history []measurement.FusionResult) []measurement.Measurements {
	out := make([]measurement.Measurements, 0, len(history))
	for _, h := range history {
		if h.IsFallback() {
			continue
		}
		out = append(out, h.Measurements)
	}
	return out
}
