package calibration

import (
	"time"

	"github.com/google/uuid"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// ScaleFactors are per-dimension multipliers applied to raw measurements.
type ScaleFactors struct {
	ShoulderWidth float64 `json:"shoulder_width"`
	Height        float64 `json:"height"`
	Confidence    float64 `json:"confidence"`
}

// UnitScale leaves measurements unchanged.
func UnitScale() ScaleFactors {
	return ScaleFactors{ShoulderWidth: 1, Height: 1, Confidence: 1}
}

// Apply scales m. The confidence is clamped to [0,1].
func (s ScaleFactors) Apply(m measurement.Measurements) measurement.Measurements {
	return measurement.Measurements{
		ShoulderWidth: m.ShoulderWidth * s.ShoulderWidth,
		Height:        m.Height * s.Height,
		Confidence:    measurement.Clamp01(m.Confidence * s.Confidence),
	}
}

// Reference pairs a raw observation with the user's known values.
type Reference struct {
	Observed           measurement.Measurements `json:"observed"`
	KnownHeight        *float64                 `json:"known_height,omitempty"`
	KnownShoulderWidth *float64                 `json:"known_shoulder_width,omitempty"`
	Timestamp          time.Time                `json:"timestamp"`
}

// Profile is a user's calibration state.
type Profile struct {
	UserID       string       `json:"user_id"`
	ScaleFactors ScaleFactors `json:"scale_factors"`
	// References holds the most recent reference pairs, oldest first.
	References  []Reference `json:"references"`
	CreatedAt   time.Time   `json:"created_at"`
	LastUpdated time.Time   `json:"last_updated"`
}

func (p Profile) clone() Profile {
	p.References = append([]Reference(nil), p.References...)
	return p
}

// Feedback is what the user reports after confirming or correcting a result.
type Feedback struct {
	KnownHeight        *float64 `json:"known_height,omitempty"`
	KnownShoulderWidth *float64 `json:"known_shoulder_width,omitempty"`
	// AccuracyRating is the user's 1..5 rating of the result.
	AccuracyRating int `json:"accuracy_rating"`
}

// FeedbackRecord is one stored feedback event.
type FeedbackRecord struct {
	ID     uuid.UUID `json:"id"`
	UserID string    `json:"user_id"`
	// Observed is the raw measurement; Calibrated is what the profile at the
	// time turned it into.
	Observed           measurement.Measurements `json:"observed"`
	Calibrated         measurement.Measurements `json:"calibrated"`
	KnownHeight        *float64                 `json:"known_height,omitempty"`
	KnownShoulderWidth *float64                 `json:"known_shoulder_width,omitempty"`
	Rating             int                      `json:"rating"`
	Timestamp          time.Time                `json:"timestamp"`
}
