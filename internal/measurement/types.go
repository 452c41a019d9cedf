// Package measurement owns the shared data model of the fusion engine:
// raw per-source estimates, acquisition context, fused results, anomalies
// and the quality grading that ties confidence and anomalies together.
//
// Key types: RawEstimate, Context, FusionResult, ValidationResult, Ring.
//
// Dependency rule: this package depends on nothing else in the module.
package measurement

import (
	"time"

	"github.com/google/uuid"
)

// SourceID identifies a measurement source (an external tracker adapter).
type SourceID string

// Result source labels that are not a single tracker.
const (
	SourceFusion   = "fusion"
	SourceFallback = "fallback"
)

// RawEstimate is one source's measurement for one fusion cycle.
// Lengths are in centimetres; Confidence is in [0,1].
type RawEstimate struct {
	ShoulderWidth float64   `json:"shoulder_width"`
	Height        float64   `json:"height"`
	Confidence    float64   `json:"confidence"`
	Source        SourceID  `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
}

// Measurements returns the numeric part of the estimate.
func (r RawEstimate) Measurements() Measurements {
	return Measurements{
		ShoulderWidth: r.ShoulderWidth,
		Height:        r.Height,
		Confidence:    r.Confidence,
	}
}

// Measurements is a body measurement with its confidence.
type Measurements struct {
	ShoulderWidth float64 `json:"shoulder_width"`
	Height        float64 `json:"height"`
	Confidence    float64 `json:"confidence"`
}

// Ratio returns height / shoulderWidth, or 0 when shoulder width is not positive.
func (m Measurements) Ratio() float64 {
	if m.ShoulderWidth <= 0 {
		return 0
	}
	return m.Height / m.ShoulderWidth
}

// Lighting classifies scene illumination.
type Lighting string

const (
	LightingExcellent Lighting = "excellent"
	LightingGood      Lighting = "good"
	LightingFair      Lighting = "fair"
	LightingPoor      Lighting = "poor"
)

// Distance classifies subject distance from the camera.
type Distance string

const (
	DistanceOptimal  Distance = "optimal"
	DistanceTooClose Distance = "too_close"
	DistanceTooFar   Distance = "too_far"
)

// Pose classifies how well the subject is posed for measurement.
type Pose string

const (
	PoseOptimal    Pose = "optimal"
	PoseAcceptable Pose = "acceptable"
	PosePoor       Pose = "poor"
)

// Context describes acquisition conditions for one cycle. It is supplied by
// the host (UI/tracking layer), never computed by the engine.
type Context struct {
	Lighting Lighting `json:"lighting"`
	Distance Distance `json:"distance"`
	Pose     Pose     `json:"pose"`
}

// IdealContext is the context assumed when the host supplies none.
func IdealContext() Context {
	return Context{Lighting: LightingGood, Distance: DistanceOptimal, Pose: PoseOptimal}
}

// FusionResult is the single result produced by one fusion cycle.
// It is read-only once produced.
type FusionResult struct {
	CycleID      uuid.UUID    `json:"cycle_id"`
	Measurements Measurements `json:"measurements"`
	// Source is "fusion", "fallback", or the id of the single contributing source.
	Source      string    `json:"source"`
	SourceCount int       `json:"source_count"`
	Quality     Quality   `json:"quality"`
	Timestamp   time.Time `json:"timestamp"`
}

// IsFallback reports whether the result is the total-failure default.
func (r FusionResult) IsFallback() bool {
	return r.Source == SourceFallback
}

// AnomalyType is the family of checks that raised an anomaly.
type AnomalyType string

const (
	AnomalyStatistical  AnomalyType = "statistical"
	AnomalyTemporal     AnomalyType = "temporal"
	AnomalyProportional AnomalyType = "proportional"
	AnomalyContextual   AnomalyType = "contextual"
)

// Severity orders anomalies from low to critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity as its name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "critical":
		*s = SeverityCritical
	case "high":
		*s = SeverityHigh
	case "medium":
		*s = SeverityMedium
	default:
		*s = SeverityLow
	}
	return nil
}

// CorrectionType names how a suggested correction should be applied.
type CorrectionType string

const (
	CorrectionScale  CorrectionType = "scale"
	CorrectionOffset CorrectionType = "offset"
	CorrectionFilter CorrectionType = "filter"
)

// Correction is a suggested adjustment attached to an anomaly.
type Correction struct {
	Type  CorrectionType `json:"type"`
	Value float64        `json:"value"`
}

// Dimension names a measured quantity.
type Dimension string

const (
	DimShoulderWidth Dimension = "shoulder_width"
	DimHeight        Dimension = "height"
	DimRatio         Dimension = "ratio"
	DimLighting      Dimension = "lighting"
	DimDistance      Dimension = "distance"
	DimPose          Dimension = "pose"
)

// Anomaly is a detected irregularity that reduces trust in a result.
type Anomaly struct {
	Type        AnomalyType `json:"type"`
	Severity    Severity    `json:"severity"`
	Confidence  float64     `json:"confidence"`
	Dimension   Dimension   `json:"dimension,omitempty"`
	Description string      `json:"description"`
	Correction  *Correction `json:"correction,omitempty"`
}

// PatternType names a recognised shape in the recent measurement series.
type PatternType string

const (
	PatternStable      PatternType = "stable"
	PatternTrending    PatternType = "trending"
	PatternOscillating PatternType = "oscillating"
	PatternConverging  PatternType = "converging"
)

// Pattern is a recognised regularity across recent cycles.
type Pattern struct {
	Type        PatternType `json:"type"`
	Dimension   Dimension   `json:"dimension"`
	Confidence  float64     `json:"confidence"`
	Description string      `json:"description"`
}

// ValidationResult is derived from a FusionResult and the rolling history.
type ValidationResult struct {
	IsValid         bool               `json:"is_valid"`
	Confidence      float64            `json:"confidence"`
	Anomalies       []Anomaly          `json:"anomalies"`
	Patterns        []Pattern          `json:"patterns"`
	Quality         Quality            `json:"quality"`
	Recommendations []string           `json:"recommendations"`
	Scores          map[string]float64 `json:"scores,omitempty"`
}

// MaxSeverity returns the worst severity in the list and whether any exist.
func MaxSeverity(anomalies []Anomaly) (Severity, bool) {
	if len(anomalies) == 0 {
		return SeverityLow, false
	}
	worst := anomalies[0].Severity
	for _, a := range anomalies[1:] {
		if a.Severity > worst {
			worst = a.Severity
		}
	}
	return worst, true
}

// Trend classifies the direction of a rolling metric.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)
