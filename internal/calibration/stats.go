package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// trendBand is the rating difference between the older and newer half of
// the feedback history needed to call a trend.
const trendBand = 0.25

// DimensionError is a mean absolute error in centimetres.
type DimensionError struct {
	ShoulderWidth float64 `json:"shoulder_width"`
	Height        float64 `json:"height"`
}

func (d DimensionError) total() float64 { return d.ShoulderWidth + d.Height }

// PersonalizedAccuracyStats summarises a user's feedback history.
type PersonalizedAccuracyStats struct {
	UserID     string         `json:"user_id"`
	Samples    int            `json:"samples"`
	RawError   DimensionError `json:"raw_error"`
	CalibError DimensionError `json:"calibrated_error"`
	MeanRating float64        `json:"mean_rating"`
	// Effectiveness is the relative reduction of absolute error achieved by
	// calibration, in [-1,1]; positive means calibration helped.
	Effectiveness float64           `json:"effectiveness"`
	Trend         measurement.Trend `json:"trend"`
	HasProfile    bool              `json:"has_profile"`
	ScaleFactors  ScaleFactors      `json:"scale_factors"`
}

// AccuracyStats aggregates the stored feedback for userID. It never mutates.
func (e *Engine) AccuracyStats(ctx context.Context, userID string) (PersonalizedAccuracyStats, error) {
	st := PersonalizedAccuracyStats{UserID: userID, Trend: measurement.TrendStable, ScaleFactors: UnitScale()}

	p, err := e.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		st.HasProfile = true
		st.ScaleFactors = p.ScaleFactors
	case !errors.Is(err, ErrNotFound):
		return st, fmt.Errorf("load profile %s: %w", userID, err)
	}

	recs, err := e.store.Feedback(ctx, userID, 0)
	if err != nil {
		return st, fmt.Errorf("load feedback %s: %w", userID, err)
	}
	st.Samples = len(recs)
	if len(recs) == 0 {
		return st, nil
	}

	var rawSW, calSW, rawH, calH []float64
	ratings := make([]float64, len(recs))
	for i, r := range recs {
		ratings[i] = float64(r.Rating)
		if r.KnownShoulderWidth != nil {
			rawSW = append(rawSW, math.Abs(r.Observed.ShoulderWidth-*r.KnownShoulderWidth))
			calSW = append(calSW, math.Abs(r.Calibrated.ShoulderWidth-*r.KnownShoulderWidth))
		}
		if r.KnownHeight != nil {
			rawH = append(rawH, math.Abs(r.Observed.Height-*r.KnownHeight))
			calH = append(calH, math.Abs(r.Calibrated.Height-*r.KnownHeight))
		}
	}
	st.RawError = DimensionError{ShoulderWidth: mean(rawSW), Height: mean(rawH)}
	st.CalibError = DimensionError{ShoulderWidth: mean(calSW), Height: mean(calH)}
	st.MeanRating = stat.Mean(ratings, nil)
	if raw := st.RawError.total(); raw > 0 {
		st.Effectiveness = measurement.Clamp((raw-st.CalibError.total())/raw, -1, 1)
	}
	st.Trend = ratingTrend(ratings)
	return st, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// ratingTrend compares the mean rating of the newer half of the history with
// the older half. Fewer than four ratings are always stable.
func ratingTrend(ratings []float64) measurement.Trend {
	if len(ratings) < 4 {
		return measurement.TrendStable
	}
	half := len(ratings) / 2
	older := stat.Mean(ratings[:half], nil)
	newer := stat.Mean(ratings[len(ratings)-half:], nil)
	switch {
	case newer-older > trendBand:
		return measurement.TrendImproving
	case older-newer > trendBand:
		return measurement.TrendDegrading
	default:
		return measurement.TrendStable
	}
}

// Suggestion texts.
const (
	SuggestCalibrate     = "complete a calibration session with a known height"
	SuggestMoreFeedback  = "rate a few more measurements to refine calibration"
	SuggestRecalibrate   = "recalibrate: accuracy ratings are getting worse"
	SuggestCheckSetup    = "check camera placement: calibration is at its adjustment limit"
	SuggestReviewContext = "review lighting and distance: recent ratings are low"
)

// minFeedback is the sample count below which more feedback is suggested.
const minFeedback = 3

// CalibrationSuggestions are advisory actions for a user's calibration.
type CalibrationSuggestions struct {
	UserID           string   `json:"user_id"`
	NeedsCalibration bool     `json:"needs_calibration"`
	Suggestions      []string `json:"suggestions"`
}

// Suggestions derives advice from AccuracyStats. It never mutates.
func (e *Engine) Suggestions(ctx context.Context, userID string) (CalibrationSuggestions, error) {
	st, err := e.AccuracyStats(ctx, userID)
	if err != nil {
		return CalibrationSuggestions{UserID: userID}, err
	}
	out := CalibrationSuggestions{UserID: userID, Suggestions: []string{}}
	add := func(s string) { out.Suggestions = append(out.Suggestions, s) }

	if !st.HasProfile {
		out.NeedsCalibration = true
		add(SuggestCalibrate)
	}
	if st.Samples < minFeedback {
		add(SuggestMoreFeedback)
	}
	if st.Trend == measurement.TrendDegrading {
		out.NeedsCalibration = true
		add(SuggestRecalibrate)
	}
	if st.HasProfile && e.nearBound(st.ScaleFactors) {
		out.NeedsCalibration = true
		add(SuggestCheckSetup)
	}
	if st.Samples > 0 && st.MeanRating < 3 {
		add(SuggestReviewContext)
	}
	return out, nil
}

func (e *Engine) nearBound(s ScaleFactors) bool {
	const margin = 0.02
	for _, v := range []float64{s.ShoulderWidth, s.Height} {
		if v <= e.cfg.ScaleMin+margin || v >= e.cfg.ScaleMax-margin {
			return true
		}
	}
	return false
}
