package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// requestValidate checks inbound request bodies.
var requestValidate = validator.New(validator.WithRequiredStructEnabled())

type contextRequest struct {
	Lighting string `json:"lighting" validate:"required,oneof=excellent good fair poor"`
	Distance string `json:"distance" validate:"required,oneof=optimal too_close too_far"`
	Pose     string `json:"pose" validate:"required,oneof=optimal acceptable poor"`
}

func (c *contextRequest) toContext() (measurement.Context, bool) {
	if c == nil {
		return measurement.Context{}, false
	}
	return measurement.Context{
		Lighting: measurement.Lighting(c.Lighting),
		Distance: measurement.Distance(c.Distance),
		Pose:     measurement.Pose(c.Pose),
	}, true
}

type measurementsRequest struct {
	ShoulderWidth float64 `json:"shoulder_width" validate:"gt=0,lte=100"`
	Height        float64 `json:"height" validate:"gt=0,lte=300"`
	Confidence    float64 `json:"confidence" validate:"gte=0,lte=1"`
}

func (m measurementsRequest) toMeasurements() measurement.Measurements {
	return measurement.Measurements{ShoulderWidth: m.ShoulderWidth, Height: m.Height, Confidence: m.Confidence}
}

// measureRequest is the optional body of POST /api/measure.
type measureRequest struct {
	UserID  string          `json:"user_id" validate:"omitempty,max=128"`
	Context *contextRequest `json:"context" validate:"omitempty"`
}

// feedbackRequest is the body of POST /api/calibration/feedback.
type feedbackRequest struct {
	UserID             string              `json:"user_id" validate:"required,max=128"`
	Observed           measurementsRequest `json:"observed" validate:"required"`
	KnownHeight        *float64            `json:"known_height" validate:"omitempty,gt=0,lte=300"`
	KnownShoulderWidth *float64            `json:"known_shoulder_width" validate:"omitempty,gt=0,lte=100"`
	AccuracyRating     int                 `json:"accuracy_rating" validate:"required,min=1,max=5"`
	Context            *contextRequest     `json:"context" validate:"omitempty"`
}

type referenceRequest struct {
	Observed           measurementsRequest `json:"observed" validate:"required"`
	KnownHeight        *float64            `json:"known_height" validate:"omitempty,gt=0,lte=300"`
	KnownShoulderWidth *float64            `json:"known_shoulder_width" validate:"omitempty,gt=0,lte=100"`
}

// sessionRequest is the body of POST /api/calibration/session.
type sessionRequest struct {
	UserID     string             `json:"user_id" validate:"required,max=128"`
	References []referenceRequest `json:"references" validate:"required,min=1,max=50,dive"`
}

func (s sessionRequest) toReferences() []calibration.Reference {
	out := make([]calibration.Reference, len(s.References))
	for i, r := range s.References {
		out[i] = calibration.Reference{
			Observed:           r.Observed.toMeasurements(),
			KnownHeight:        r.KnownHeight,
			KnownShoulderWidth: r.KnownShoulderWidth,
		}
	}
	return out
}

// resetRequest is the body of POST /api/breakers/reset.
type resetRequest struct {
	Key string `json:"key" validate:"required,max=256"`
}

// validationMessage flattens validator errors into one line naming every
// failing field and rule.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}
