package validation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

const (
	stableCV        = 0.01
	trendSpan       = 4
	oscillationSpan = 5
	convergeSpan    = 4
)

// recognise finds patterns in series (oldest first, current value last).
func recognise(series []measurement.Measurements) []measurement.Pattern {
	if len(series) < 3 {
		return nil
	}
	var out []measurement.Pattern
	for _, d := range dimensions {
		vals := column(series, d)

		if mean, std := stat.MeanStdDev(vals, nil); mean > 0 {
			if cv := std / mean; cv < stableCV {
				out = append(out, measurement.Pattern{
					Type:        measurement.PatternStable,
					Dimension:   d.name,
					Confidence:  measurement.Clamp01(1 - cv/(2*stableCV)),
					Description: fmt.Sprintf("%s is stable around %.1f", d.name, mean),
				})
			}
		}

		if len(vals) >= trendSpan {
			if dir := monotonic(deltas(lastN(vals, trendSpan))); dir != 0 {
				word := "increasing"
				if dir < 0 {
					word = "decreasing"
				}
				out = append(out, measurement.Pattern{
					Type:        measurement.PatternTrending,
					Dimension:   d.name,
					Confidence:  0.7,
					Description: fmt.Sprintf("%s is steadily %s", d.name, word),
				})
			}
		}

		if len(vals) >= oscillationSpan && alternating(deltas(lastN(vals, oscillationSpan))) {
			out = append(out, measurement.Pattern{
				Type:        measurement.PatternOscillating,
				Dimension:   d.name,
				Confidence:  0.6,
				Description: fmt.Sprintf("%s alternates up and down", d.name),
			})
		}

		if len(vals) >= convergeSpan && shrinking(deltas(lastN(vals, convergeSpan))) {
			out = append(out, measurement.Pattern{
				Type:        measurement.PatternConverging,
				Dimension:   d.name,
				Confidence:  0.65,
				Description: fmt.Sprintf("%s changes are getting smaller", d.name),
			})
		}
	}
	return out
}

func deltas(vals []float64) []float64 {
	if len(vals) < 2 {
		return nil
	}
	out := make([]float64, len(vals)-1)
	for i := 1; i < len(vals); i++ {
		out[i-1] = vals[i] - vals[i-1]
	}
	return out
}

// monotonic returns +1 or -1 when every delta is non-zero with the same sign.
func monotonic(ds []float64) int {
	if len(ds) == 0 {
		return 0
	}
	sign := 0
	for _, d := range ds {
		s := 0
		switch {
		case d > 0:
			s = 1
		case d < 0:
			s = -1
		}
		if s == 0 || (sign != 0 && s != sign) {
			return 0
		}
		sign = s
	}
	return sign
}

// alternating reports whether consecutive deltas are non-zero and flip sign.
func alternating(ds []float64) bool {
	if len(ds) < 2 {
		return false
	}
	for i, d := range ds {
		if d == 0 {
			return false
		}
		if i > 0 && math.Signbit(d) == math.Signbit(ds[i-1]) {
			return false
		}
	}
	return true
}

// shrinking reports whether absolute deltas strictly decrease.
func shrinking(ds []float64) bool {
	if len(ds) < 2 {
		return false
	}
	for i := 1; i < len(ds); i++ {
		if math.Abs(ds[i]) >= math.Abs(ds[i-1]) {
			return false
		}
	}
	return true
}
