package validation

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// Features is everything a Scorer may look at for one cycle.
type Features struct {
	Current measurement.Measurements
	// History is the observed series before Current, oldest first.
	History  []measurement.Measurements
	Context  measurement.Context
	RatioMin float64
	RatioMax float64
}

// Scorer rates a measurement in [0,1]; higher means more trustworthy.
type Scorer interface {
	Name() string
	Score(Features) float64
}

// ConfidenceScorer passes through the fused confidence.
type ConfidenceScorer struct{}

func (ConfidenceScorer) Name() string { return "confidence" }

func (ConfidenceScorer) Score(f Features) float64 {
	return measurement.Clamp01(f.Current.Confidence)
}

// ConsistencyScorer rates agreement with the historical mean. A 20% average
// relative deviation scores zero; no history scores one.
type ConsistencyScorer struct{}

func (ConsistencyScorer) Name() string { return "consistency" }

func (ConsistencyScorer) Score(f Features) float64 {
	if len(f.History) == 0 {
		return 1
	}
	var total float64
	for _, d := range dimensions {
		mean := stat.Mean(column(f.History, d), nil)
		if mean <= 0 {
			continue
		}
		total += math.Abs(d.get(f.Current)-mean) / mean
	}
	return measurement.Clamp01(1 - total/float64(len(dimensions))/0.2)
}

// ProportionScorer rates the height to shoulder ratio. Inside the expected
// range scores one, falling to zero at 50% beyond the nearest bound.
type ProportionScorer struct{}

func (ProportionScorer) Name() string { return "proportion" }

func (ProportionScorer) Score(f Features) float64 {
	if f.Current.ShoulderWidth <= 0 {
		return 0
	}
	dev, _ := ratioDeviation(f.Current.Ratio(), f.RatioMin, f.RatioMax)
	return measurement.Clamp01(1 - dev/0.5)
}

// ContextScorer rates the acquisition conditions.
type ContextScorer struct{}

func (ContextScorer) Name() string { return "context" }

func (ContextScorer) Score(f Features) float64 {
	var l, d, p float64
	switch f.Context.Lighting {
	case measurement.LightingExcellent:
		l = 1
	case measurement.LightingGood, "":
		l = 0.9
	case measurement.LightingFair:
		l = 0.7
	default:
		l = 0.4
	}
	switch f.Context.Distance {
	case measurement.DistanceOptimal, "":
		d = 1
	default:
		d = 0.7
	}
	switch f.Context.Pose {
	case measurement.PoseOptimal, "":
		p = 1
	case measurement.PoseAcceptable:
		p = 0.85
	default:
		p = 0.6
	}
	return (l + d + p) / 3
}

// featureVector is the learned model's input: a bias term followed by the
// built-in scorer outputs.
func featureVector(f Features) []float64 {
	return []float64{
		1,
		ConfidenceScorer{}.Score(f),
		ConsistencyScorer{}.Score(f),
		ProportionScorer{}.Score(f),
		ContextScorer{}.Score(f),
	}
}

// LogisticModel is a small logistic regression over featureVector.
type LogisticModel struct {
	Weights []float64 `json:"weights"`
}

// NewLogisticModel returns a model that scores 0.5 when every feature is 0.5
// and about 0.88 when every feature is 1.
func NewLogisticModel() *LogisticModel {
	return &LogisticModel{Weights: []float64{-2, 1, 1, 1, 1}}
}

// Predict returns the model output in (0,1).
func (m *LogisticModel) Predict(x []float64) float64 {
	return sigmoid(floats.Dot(m.Weights, x))
}

// step applies one clipped gradient step toward label y and returns the
// squared error before the update.
func (m *LogisticModel) step(x []float64, y, lr float64) float64 {
	p := m.Predict(x)
	diff := p - y
	grad := make([]float64, len(x))
	floats.ScaleTo(grad, diff, x)
	for i, g := range grad {
		grad[i] = measurement.Clamp(g, -1, 1)
	}
	floats.AddScaled(m.Weights, -lr, grad)
	return diff * diff
}

func (m *LogisticModel) clone() *LogisticModel {
	w := make([]float64, len(m.Weights))
	copy(w, m.Weights)
	return &LogisticModel{Weights: w}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// learnedScorer reads the validator's current model.
type learnedScorer struct{ v *Validator }

func (learnedScorer) Name() string { return "learned" }

func (s learnedScorer) Score(f Features) float64 {
	s.v.mu.RLock()
	defer s.v.mu.RUnlock()
	return s.v.model.Predict(featureVector(f))
}

// severityPenalty is subtracted from the combined score per anomaly, scaled
// by the anomaly's confidence.
func severityPenalty(s measurement.Severity) float64 {
	switch s {
	case measurement.SeverityCritical:
		return 0.35
	case measurement.SeverityHigh:
		return 0.2
	case measurement.SeverityMedium:
		return 0.1
	default:
		return 0.05
	}
}

// combine computes the weighted mean of enabled scorers, minus anomaly
// penalties, clamped to [0,1]. It also returns each scorer's raw output.
func combine(f Features, scorers []weighted, advanced bool, anomalies []measurement.Anomaly) (float64, map[string]float64) {
	scores := make(map[string]float64, len(scorers))
	var sum, wsum float64
	for _, w := range scorers {
		if w.advanced && !advanced {
			continue
		}
		s := measurement.Clamp01(w.scorer.Score(f))
		scores[w.scorer.Name()] = s
		sum += w.weight * s
		wsum += w.weight
	}
	var score float64
	if wsum > 0 {
		score = sum / wsum
	}
	for _, a := range anomalies {
		score -= severityPenalty(a.Severity) * measurement.Clamp01(a.Confidence)
	}
	return measurement.Clamp01(score), scores
}
