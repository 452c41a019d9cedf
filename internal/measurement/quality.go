package measurement

import "math"

// Quality is a coarse bucketed trust label. Values are ordered so that
// poor < fair < good < excellent compares correctly with <.
type Quality int

const (
	QualityPoor Quality = iota
	QualityFair
	QualityGood
	QualityExcellent
)

// String returns the lowercase quality name.
func (q Quality) String() string {
	switch q {
	case QualityPoor:
		return "poor"
	case QualityFair:
		return "fair"
	case QualityGood:
		return "good"
	case QualityExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// MarshalText encodes the quality as its name.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText decodes a quality name.
func (q *Quality) UnmarshalText(b []byte) error {
	switch string(b) {
	case "excellent":
		*q = QualityExcellent
	case "good":
		*q = QualityGood
	case "fair":
		*q = QualityFair
	default:
		*q = QualityPoor
	}
	return nil
}

// Confidence thresholds for quality buckets.
const (
	ExcellentThreshold = 0.9
	GoodThreshold      = 0.7
	FairThreshold      = 0.5
)

// GradeConfidence buckets a confidence score into a quality label.
func GradeConfidence(c float64) Quality {
	switch {
	case c >= ExcellentThreshold:
		return QualityExcellent
	case c >= GoodThreshold:
		return QualityGood
	case c >= FairThreshold:
		return QualityFair
	default:
		return QualityPoor
	}
}

// severityCap is the best quality allowed when an anomaly of the given
// severity is present.
func severityCap(s Severity) Quality {
	switch s {
	case SeverityCritical:
		return QualityPoor
	case SeverityHigh:
		return QualityFair
	case SeverityMedium:
		return QualityGood
	default:
		return QualityExcellent
	}
}

// GradeQuality derives quality from confidence and the anomaly list.
// The confidence bucket is capped by the worst anomaly severity, so for a
// fixed anomaly set the result is monotonic in confidence.
func GradeQuality(confidence float64, anomalies []Anomaly) Quality {
	q := GradeConfidence(confidence)
	if worst, ok := MaxSeverity(anomalies); ok {
		if c := severityCap(worst); c < q {
			q = c
		}
	}
	return q
}

// Clamp01 clamps v into [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Clamp clamps v into [lo,hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
