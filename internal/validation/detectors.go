package validation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// minStdDev below which a window is treated as constant and the z-score
// detector is skipped.
const minStdDev = 1e-9

// temporalFilter is the blend factor suggested for temporal jumps.
const temporalFilter = 0.5

type dimension struct {
	name measurement.Dimension
	get  func(measurement.Measurements) float64
}

var dimensions = []dimension{
	{measurement.DimShoulderWidth, func(m measurement.Measurements) float64 { return m.ShoulderWidth }},
	{measurement.DimHeight, func(m measurement.Measurements) float64 { return m.Height }},
}

func column(series []measurement.Measurements, d dimension) []float64 {
	out := make([]float64, len(series))
	for i, m := range series {
		out[i] = d.get(m)
	}
	return out
}

func lastN[T any](s []T, n int) []T {
	if n < len(s) {
		return s[len(s)-n:]
	}
	return s
}

// statistical flags values whose z-score against the recent window exceeds
// the threshold.
func (v *Validator) statistical(cur measurement.Measurements, series []measurement.Measurements) []measurement.Anomaly {
	if len(series) < v.cfg.MinHistory {
		return nil
	}
	window := lastN(series, v.cfg.StatWindow)

	var out []measurement.Anomaly
	for _, d := range dimensions {
		mean, std := stat.MeanStdDev(column(window, d), nil)
		if std < minStdDev || math.IsNaN(std) {
			continue
		}
		value := d.get(cur)
		z := (value - mean) / std
		if math.Abs(z) <= v.cfg.ZScoreThreshold {
			continue
		}
		sev := measurement.SeverityMedium
		if math.Abs(z) > v.cfg.ZScoreHigh {
			sev = measurement.SeverityHigh
		}
		a := measurement.Anomaly{
			Type:        measurement.AnomalyStatistical,
			Severity:    sev,
			Confidence:  math.Min(1, math.Abs(z)/4),
			Dimension:   d.name,
			Description: fmt.Sprintf("%s %.1f is %.1f standard deviations from the recent mean %.1f", d.name, value, z, mean),
		}
		if value != 0 {
			a.Correction = &measurement.Correction{Type: measurement.CorrectionScale, Value: mean / value}
		}
		out = append(out, a)
	}
	return out
}

// temporal flags a change from the previous value that is much larger than
// the recent average change.
func (v *Validator) temporal(cur measurement.Measurements, series []measurement.Measurements) []measurement.Anomaly {
	if len(series) < 3 {
		return nil
	}
	window := lastN(series, v.cfg.TemporalWindow)
	if len(window) < 2 {
		// No consecutive pair to take an average change from.
		return nil
	}
	prev := series[len(series)-1]

	var out []measurement.Anomaly
	for _, d := range dimensions {
		vals := column(window, d)
		var sum float64
		for i := 1; i < len(vals); i++ {
			sum += math.Abs(vals[i] - vals[i-1])
		}
		avg := sum / float64(len(vals)-1)
		if avg < v.cfg.MinTemporalChange {
			avg = v.cfg.MinTemporalChange
		}
		if avg <= 0 {
			continue
		}

		change := math.Abs(d.get(cur) - d.get(prev))
		ratio := change / avg
		if ratio <= v.cfg.TemporalRatio {
			continue
		}
		out = append(out, measurement.Anomaly{
			Type:        measurement.AnomalyTemporal,
			Severity:    temporalSeverity(ratio),
			Confidence:  measurement.Clamp01(0.5 + (ratio-3)/14),
			Dimension:   d.name,
			Description: fmt.Sprintf("%s changed by %.1f cm, %.1fx the recent average change", d.name, change, ratio),
			Correction:  &measurement.Correction{Type: measurement.CorrectionFilter, Value: temporalFilter},
		})
	}
	return out
}

func temporalSeverity(ratio float64) measurement.Severity {
	switch {
	case ratio <= 4:
		return measurement.SeverityLow
	case ratio <= 6:
		return measurement.SeverityMedium
	case ratio <= 10:
		return measurement.SeverityHigh
	default:
		return measurement.SeverityCritical
	}
}

// proportional checks height / shoulder width against the expected human
// range. The correction is the factor to multiply shoulder width by to bring
// the ratio back to the nearest bound.
func (v *Validator) proportional(cur measurement.Measurements) []measurement.Anomaly {
	if cur.ShoulderWidth <= 0 {
		return []measurement.Anomaly{{
			Type:        measurement.AnomalyProportional,
			Severity:    measurement.SeverityCritical,
			Confidence:  1,
			Dimension:   measurement.DimShoulderWidth,
			Description: fmt.Sprintf("shoulder width %.1f is not a valid measurement", cur.ShoulderWidth),
		}}
	}

	ratio := cur.Ratio()
	dev, bound := ratioDeviation(ratio, v.cfg.RatioMin, v.cfg.RatioMax)
	if dev <= v.cfg.RatioTolerance {
		return nil
	}

	var corr *measurement.Correction
	if bound > 0 {
		corr = &measurement.Correction{Type: measurement.CorrectionScale, Value: ratio / bound}
	}
	return []measurement.Anomaly{{
		Type:        measurement.AnomalyProportional,
		Severity:    proportionalSeverity(dev),
		Confidence:  measurement.Clamp01(0.5 + dev),
		Dimension:   measurement.DimRatio,
		Description: fmt.Sprintf("height to shoulder ratio %.2f is outside %.1f-%.1f", ratio, v.cfg.RatioMin, v.cfg.RatioMax),
		Correction:  corr,
	}}
}

// ratioDeviation returns the relative distance of r beyond [lo,hi] and the
// nearest bound. Inside the range it returns (0, r).
func ratioDeviation(r, lo, hi float64) (float64, float64) {
	switch {
	case r < lo && lo > 0:
		return (lo - r) / lo, lo
	case r > hi && hi > 0:
		return (r - hi) / hi, hi
	default:
		return 0, r
	}
}

func proportionalSeverity(dev float64) measurement.Severity {
	switch {
	case dev <= 0.1:
		return measurement.SeverityLow
	case dev <= 0.25:
		return measurement.SeverityMedium
	case dev <= 0.5:
		return measurement.SeverityHigh
	default:
		return measurement.SeverityCritical
	}
}

// contextual reports input-quality risk from the acquisition conditions.
func contextual(cond measurement.Context) []measurement.Anomaly {
	var out []measurement.Anomaly
	switch cond.Lighting {
	case measurement.LightingPoor:
		out = append(out, measurement.Anomaly{
			Type:        measurement.AnomalyContextual,
			Severity:    measurement.SeverityMedium,
			Confidence:  0.8,
			Dimension:   measurement.DimLighting,
			Description: "poor lighting reduces landmark accuracy",
		})
	case measurement.LightingFair:
		out = append(out, measurement.Anomaly{
			Type:        measurement.AnomalyContextual,
			Severity:    measurement.SeverityLow,
			Confidence:  0.5,
			Dimension:   measurement.DimLighting,
			Description: "fair lighting may reduce landmark accuracy",
		})
	}
	if cond.Distance != "" && cond.Distance != measurement.DistanceOptimal {
		out = append(out, measurement.Anomaly{
			Type:        measurement.AnomalyContextual,
			Severity:    measurement.SeverityMedium,
			Confidence:  0.7,
			Dimension:   measurement.DimDistance,
			Description: fmt.Sprintf("subject distance is %s", cond.Distance),
		})
	}
	if cond.Pose == measurement.PosePoor {
		out = append(out, measurement.Anomaly{
			Type:        measurement.AnomalyContextual,
			Severity:    measurement.SeverityMedium,
			Confidence:  0.75,
			Dimension:   measurement.DimPose,
			Description: "poor pose hides body landmarks",
		})
	}
	return out
}
