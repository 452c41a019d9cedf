package fusion

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/config"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// Strategy selects how two or more available estimates are combined.
type Strategy string

const (
	// StrategyBest keeps the estimate with the highest confidence.
	StrategyBest Strategy = config.StrategyBest
	// StrategyConsensus takes the unweighted mean of every field.
	StrategyConsensus Strategy = config.StrategyConsensus
	// StrategyWeighted takes the confidence-weighted mean of every field.
	StrategyWeighted Strategy = config.StrategyWeighted
)

// ParseStrategy maps a configuration string to a Strategy. The empty string
// selects StrategyWeighted.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyWeighted, nil
	case StrategyBest, StrategyConsensus, StrategyWeighted:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown fusion strategy %q", s)
}

// combine fuses estimates (sorted by source id, at least one) and returns
// the measurements with the result source label.
func combine(strategy Strategy, ests []measurement.RawEstimate) (measurement.Measurements, string) {
	if len(ests) == 1 {
		return ests[0].Measurements(), string(ests[0].Source)
	}
	switch strategy {
	case StrategyBest:
		best := fuseBest(ests)
		return best.Measurements(), string(best.Source)
	case StrategyConsensus:
		return fuseMean(ests, nil), measurement.SourceFusion
	default:
		return fuseWeighted(ests), measurement.SourceFusion
	}
}

// fuseBest returns the estimate with maximum confidence. Ties go to the
// earliest estimate.
func fuseBest(ests []measurement.RawEstimate) measurement.RawEstimate {
	best := ests[0]
	for _, e := range ests[1:] {
		if e.Confidence > best.Confidence {
			best = e
		}
	}
	return best
}

func fuseWeighted(ests []measurement.RawEstimate) measurement.Measurements {
	weights := make([]float64, len(ests))
	var total float64
	for i, e := range ests {
		weights[i] = e.Confidence
		total += e.Confidence
	}
	if total <= 0 {
		return fuseMean(ests, nil)
	}
	return fuseMean(ests, weights)
}

// fuseMean averages every field, weighted when weights is non-nil.
func fuseMean(ests []measurement.RawEstimate, weights []float64) measurement.Measurements {
	sw := make([]float64, len(ests))
	h := make([]float64, len(ests))
	c := make([]float64, len(ests))
	for i, e := range ests {
		sw[i], h[i], c[i] = e.ShoulderWidth, e.Height, e.Confidence
	}
	return measurement.Measurements{
		ShoulderWidth: stat.Mean(sw, weights),
		Height:        stat.Mean(h, weights),
		Confidence:    measurement.Clamp01(stat.Mean(c, weights)),
	}
}
