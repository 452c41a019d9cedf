// Package calibration personalises measurements per user. A profile holds
// multiplicative scale factors learned from calibration sessions and from
// user feedback; ApplyCalibration rescales raw results with them.
//
// Profiles live behind the Store interface. Updates for one user are
// serialised by a per-user lock; different users never contend.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/config"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/monitoring"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/timeutil"
)

var (
	// ErrInvalidRating is returned when an accuracy rating is outside 1..5.
	ErrInvalidRating = errors.New("calibration: accuracy rating must be between 1 and 5")
	// ErrNoReferences is returned when a calibration session has no usable
	// reference pair.
	ErrNoReferences = errors.New("calibration: no usable reference measurements")
	// ErrEmptyUserID is returned for operations without a user id.
	ErrEmptyUserID = errors.New("calibration: empty user id")
)

// Config holds learning parameters.
type Config struct {
	LearningRate  float64
	ScaleMin      float64
	ScaleMax      float64
	MaxReferences int
}

// DefaultConfig returns the built-in parameters.
func DefaultConfig() Config {
	return ConfigFromEngine(config.EmptyEngineConfig())
}

// ConfigFromEngine builds a Config from a loaded EngineConfig.
func ConfigFromEngine(cfg *config.EngineConfig) Config {
	return Config{
		LearningRate:  cfg.GetCalibrationLearningRate(),
		ScaleMin:      cfg.GetScaleMin(),
		ScaleMax:      cfg.GetScaleMax(),
		MaxReferences: cfg.GetMaxReferences(),
	}
}

// Engine applies and learns per-user calibration.
type Engine struct {
	cfg   Config
	store Store
	clock timeutil.Clock
	log   *logrus.Entry

	locks sync.Map // userID -> *sync.Mutex
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// NewEngine creates an Engine over store. A nil store uses a MemoryStore.
func NewEngine(store Store, cfg Config, opts ...Option) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.MaxReferences < 1 {
		cfg.MaxReferences = 1
	}
	e := &Engine{
		cfg:   cfg,
		store: store,
		clock: timeutil.RealClock{},
		log:   monitoring.Component("calibration"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() Store { return e.store }

func (e *Engine) userLock(userID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (e *Engine) clampScale(s float64) float64 {
	return measurement.Clamp(s, e.cfg.ScaleMin, e.cfg.ScaleMax)
}

// Profile returns the stored profile for userID.
func (e *Engine) Profile(ctx context.Context, userID string) (Profile, error) {
	return e.store.GetProfile(ctx, userID)
}

// ApplyCalibration rescales m with the user's profile. Without a profile,
// or when the store fails, m is returned unchanged with applied=false.
func (e *Engine) ApplyCalibration(ctx context.Context, userID string, m measurement.Measurements) (measurement.Measurements, bool) {
	if userID == "" {
		return m, false
	}
	p, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.log.WithField("user", userID).WithError(err).Warn("profile lookup failed, using raw measurement")
		}
		return m, false
	}
	return p.ScaleFactors.Apply(m), true
}

// Calibrate runs a calibration session: each scale factor becomes the mean
// known/observed ratio over refs for that dimension, clamped. Dimensions with
// no usable pair keep their previous factor. The profile is created when
// absent.
func (e *Engine) Calibrate(ctx context.Context, userID string, refs []Reference) (Profile, error) {
	if userID == "" {
		return Profile{}, ErrEmptyUserID
	}
	mu := e.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	p, err := e.loadOrNew(ctx, userID)
	if err != nil {
		return Profile{}, err
	}

	var swSum, hSum float64
	var swN, hN int
	for _, r := range refs {
		if r.KnownShoulderWidth != nil && *r.KnownShoulderWidth > 0 && r.Observed.ShoulderWidth > 0 {
			swSum += *r.KnownShoulderWidth / r.Observed.ShoulderWidth
			swN++
		}
		if r.KnownHeight != nil && *r.KnownHeight > 0 && r.Observed.Height > 0 {
			hSum += *r.KnownHeight / r.Observed.Height
			hN++
		}
	}
	if swN == 0 && hN == 0 {
		return Profile{}, ErrNoReferences
	}
	if swN > 0 {
		p.ScaleFactors.ShoulderWidth = e.clampScale(swSum / float64(swN))
	}
	if hN > 0 {
		p.ScaleFactors.Height = e.clampScale(hSum / float64(hN))
	}

	now := e.clock.Now()
	for _, r := range refs {
		if r.Timestamp.IsZero() {
			r.Timestamp = now
		}
		p.References = append(p.References, r)
	}
	p.References = e.trim(p.References)
	p.LastUpdated = now

	if err := e.store.PutProfile(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("save profile %s: %w", userID, err)
	}
	e.log.WithFields(logrus.Fields{
		"user":   userID,
		"sw":     p.ScaleFactors.ShoulderWidth,
		"height": p.ScaleFactors.Height,
		"refs":   len(refs),
	}).Info("calibration session applied")
	return p, nil
}

// LearnFromFeedback nudges the user's scale factors toward the values that
// would have produced the known measurements from observed, by LearningRate
// of the gap. The confidence factor moves toward 0.8 (rating 1) .. 1.0
// (rating 5). observed must be the raw, uncalibrated measurement.
func (e *Engine) LearnFromFeedback(ctx context.Context, userID string, observed measurement.Measurements, fb Feedback) (Profile, error) {
	if userID == "" {
		return Profile{}, ErrEmptyUserID
	}
	if fb.AccuracyRating < 1 || fb.AccuracyRating > 5 {
		return Profile{}, ErrInvalidRating
	}
	mu := e.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	p, err := e.loadOrNew(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	calibrated := p.ScaleFactors.Apply(observed)

	lr := e.cfg.LearningRate
	nudge := func(s, target float64) float64 {
		return e.clampScale(s + lr*(target-s))
	}
	if fb.KnownShoulderWidth != nil && *fb.KnownShoulderWidth > 0 && observed.ShoulderWidth > 0 {
		p.ScaleFactors.ShoulderWidth = nudge(p.ScaleFactors.ShoulderWidth, *fb.KnownShoulderWidth/observed.ShoulderWidth)
	}
	if fb.KnownHeight != nil && *fb.KnownHeight > 0 && observed.Height > 0 {
		p.ScaleFactors.Height = nudge(p.ScaleFactors.Height, *fb.KnownHeight/observed.Height)
	}
	p.ScaleFactors.Confidence = nudge(p.ScaleFactors.Confidence, ratingConfidence(fb.AccuracyRating))

	now := e.clock.Now()
	p.References = e.trim(append(p.References, Reference{
		Observed:           observed,
		KnownHeight:        fb.KnownHeight,
		KnownShoulderWidth: fb.KnownShoulderWidth,
		Timestamp:          now,
	}))
	p.LastUpdated = now

	rec := FeedbackRecord{
		ID:                 uuid.New(),
		UserID:             userID,
		Observed:           observed,
		Calibrated:         calibrated,
		KnownHeight:        fb.KnownHeight,
		KnownShoulderWidth: fb.KnownShoulderWidth,
		Rating:             fb.AccuracyRating,
		Timestamp:          now,
	}
	if err := e.store.SaveFeedback(ctx, p, rec); err != nil {
		return Profile{}, fmt.Errorf("save feedback %s: %w", userID, err)
	}
	return p, nil
}

// ratingConfidence maps a 1..5 rating onto a confidence factor in [0.8,1.0].
func ratingConfidence(rating int) float64 {
	return 0.8 + 0.1*float64(rating-1)/2
}

func (e *Engine) loadOrNew(ctx context.Context, userID string) (Profile, error) {
	p, err := e.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, ErrNotFound):
		now := e.clock.Now()
		return Profile{UserID: userID, ScaleFactors: UnitScale(), CreatedAt: now, LastUpdated: now}, nil
	default:
		return Profile{}, fmt.Errorf("load profile %s: %w", userID, err)
	}
}

// trim keeps the newest MaxReferences entries.
func (e *Engine) trim(refs []Reference) []Reference {
	if n := len(refs) - e.cfg.MaxReferences; n > 0 {
		refs = append([]Reference(nil), refs[n:]...)
	}
	return refs
}
