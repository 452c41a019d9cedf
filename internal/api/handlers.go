package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fusion"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/httputil"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/perfmon"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/recovery"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/validation"
)

type historyResponse struct {
	Capacity int                        `json:"capacity"`
	Results  []measurement.FusionResult `json:"results"`
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, historyResponse{
		Capacity: s.deps.Orchestrator.HistoryCap(),
		Results:  s.deps.Orchestrator.History(),
	})
}

// decodeValid decodes the body into v and runs the struct validator.
// It writes the 400 itself and reports whether the handler may continue.
func decodeValid(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httputil.DecodeJSON(w, r, v); err != nil {
		httputil.BadRequest(w, err.Error())
		return false
	}
	if err := requestValidate.Struct(v); err != nil {
		httputil.BadRequest(w, validationMessage(err))
		return false
	}
	return true
}

// measure runs one on-demand cycle against the configured sources.
func (s *Server) measure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var body measureRequest
	if r.ContentLength != 0 && !decodeValid(w, r, &body) {
		return
	}
	if s.deps.Sources == nil {
		httputil.ServiceUnavailable(w, "no measurement sources configured")
		return
	}

	queries, cond := s.deps.Sources.Next()
	if c, ok := body.Context.toContext(); ok {
		cond = c
	}
	out := s.deps.Orchestrator.Measure(r.Context(), fusion.Request{
		UserID:  body.UserID,
		Context: cond,
		Sources: queries,
	})
	httputil.WriteJSONOK(w, out)
}

type performanceResponse struct {
	Stats       perfmon.Stats    `json:"stats"`
	Recommended perfmon.Settings `json:"recommended"`
	Applied     perfmon.Settings `json:"applied"`
}

func (s *Server) showPerformance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.deps.Monitor == nil {
		httputil.ServiceUnavailable(w, "performance monitor not configured")
		return
	}
	httputil.WriteJSONOK(w, performanceResponse{
		Stats:       s.deps.Monitor.Stats(),
		Recommended: s.deps.Monitor.OptimalSettings(),
		Applied:     s.deps.Orchestrator.Settings(),
	})
}

func (s *Server) showBreakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.deps.Recovery == nil {
		httputil.ServiceUnavailable(w, "recovery manager not configured")
		return
	}
	if key := r.URL.Query().Get("key"); key != "" {
		httputil.WriteJSONOK(w, s.deps.Recovery.State(key))
		return
	}
	httputil.WriteJSONOK(w, s.deps.Recovery.Snapshot())
}

func (s *Server) resetBreaker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.deps.Recovery == nil {
		httputil.ServiceUnavailable(w, "recovery manager not configured")
		return
	}
	var body resetRequest
	if !decodeValid(w, r, &body) {
		return
	}
	s.deps.Recovery.Reset(body.Key)
	s.log.WithField("key", body.Key).Info("breaker reset")
	httputil.WriteJSONOK(w, s.deps.Recovery.State(body.Key))
}

// userID reads the required user_id query parameter, writing a 400 when it
// is missing.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("user_id")
	if id == "" {
		httputil.BadRequest(w, "missing 'user_id' parameter")
		return "", false
	}
	return id, true
}

func (s *Server) calibrationGET(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return "", false
	}
	if s.deps.Calibration == nil {
		httputil.ServiceUnavailable(w, "calibration not configured")
		return "", false
	}
	return userID(w, r)
}

func (s *Server) showProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.calibrationGET(w, r)
	if !ok {
		return
	}
	p, err := s.deps.Calibration.Profile(r.Context(), id)
	switch {
	case errors.Is(err, calibration.ErrNotFound):
		httputil.NotFound(w, fmt.Sprintf("no calibration profile for %q", id))
	case err != nil:
		httputil.InternalServerError(w, fmt.Sprintf("failed to load profile: %v", err))
	default:
		httputil.WriteJSONOK(w, p)
	}
}

func (s *Server) showCalibrationStats(w http.ResponseWriter, r *http.Request) {
	id, ok := s.calibrationGET(w, r)
	if !ok {
		return
	}
	st, err := s.deps.Calibration.AccuracyStats(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to compute accuracy stats: %v", err))
		return
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) showCalibrationSuggestions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.calibrationGET(w, r)
	if !ok {
		return
	}
	sg, err := s.deps.Calibration.Suggestions(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to compute suggestions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, sg)
}

func (s *Server) calibrationSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.deps.Calibration == nil {
		httputil.ServiceUnavailable(w, "calibration not configured")
		return
	}
	var body sessionRequest
	if !decodeValid(w, r, &body) {
		return
	}
	p, err := s.deps.Calibration.Calibrate(r.Context(), body.UserID, body.toReferences())
	switch {
	case errors.Is(err, calibration.ErrNoReferences):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalServerError(w, fmt.Sprintf("calibration failed: %v", err))
	default:
		httputil.WriteJSONOK(w, p)
	}
}

type feedbackResponse struct {
	Profile calibration.Profile      `json:"profile"`
	Trained bool                     `json:"trained"`
	Outcome recovery.Outcome         `json:"outcome"`
	Stats   validation.TrainingStats `json:"training"`
}

type feedbackResult struct {
	profile calibration.Profile
	trained bool
}

// submitFeedback feeds a user's confirmation into both the calibration
// profile and the validator's learned scorer. The two updates run under the
// model-update breaker so a failing store stops being hammered.
func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.deps.Calibration == nil {
		httputil.ServiceUnavailable(w, "calibration not configured")
		return
	}
	var body feedbackRequest
	if !decodeValid(w, r, &body) {
		return
	}
	observed := body.Observed.toMeasurements()
	cond, ok := body.Context.toContext()
	if !ok {
		cond = measurement.IdealContext()
	}

	res, out := recovery.Run(r.Context(), s.deps.Recovery, ModelUpdateKey, func(ctx context.Context) (feedbackResult, error) {
		p, err := s.deps.Calibration.LearnFromFeedback(ctx, body.UserID, observed, calibration.Feedback{
			KnownHeight:        body.KnownHeight,
			KnownShoulderWidth: body.KnownShoulderWidth,
			AccuracyRating:     body.AccuracyRating,
		})
		if err != nil {
			return feedbackResult{}, err
		}
		res := feedbackResult{profile: p}
		if s.deps.Validator == nil {
			return res, nil
		}
		err = s.deps.Validator.TrainWithFeedback(validation.Sample{
			Observed:           observed,
			Context:            cond,
			KnownHeight:        body.KnownHeight,
			KnownShoulderWidth: body.KnownShoulderWidth,
		})
		if err != nil && !errors.Is(err, validation.ErrNoGroundTruth) {
			// The profile update already landed; retrying would apply it twice.
			s.log.WithError(err).WithField("user", body.UserID).Warn("validator training failed")
		}
		res.trained = err == nil
		return res, nil
	})
	if !out.OK {
		msg := "model update unavailable"
		if out.Err != nil {
			msg = fmt.Sprintf("model update failed: %v", out.Err)
		}
		httputil.ServiceUnavailable(w, msg)
		return
	}

	resp := feedbackResponse{Profile: res.profile, Trained: res.trained, Outcome: out}
	if s.deps.Validator != nil {
		resp.Stats = s.deps.Validator.TrainingStats()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showTraining(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.deps.Validator == nil {
		httputil.ServiceUnavailable(w, "validator not configured")
		return
	}
	httputil.WriteJSONOK(w, s.deps.Validator.TrainingStats())
}
