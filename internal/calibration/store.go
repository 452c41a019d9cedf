package calibration

import (
	"context"
	"errors"
	"sync"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// ErrNotFound is returned by a Store when a user has no profile.
var ErrNotFound = errors.New("calibration: profile not found")

// Store persists profiles and feedback. Implementations must be safe for
// concurrent use.
type Store interface {
	GetProfile(ctx context.Context, userID string) (Profile, error)
	PutProfile(ctx context.Context, p Profile) error
	// SaveFeedback writes the profile updated by a feedback step together
	// with the feedback record. Either both are stored or neither is, so a
	// failed call can be retried without learning twice.
	SaveFeedback(ctx context.Context, p Profile, rec FeedbackRecord) error
	// Feedback returns the newest limit records for a user, oldest first.
	// A limit of 0 or less returns all records.
	Feedback(ctx context.Context, userID string, limit int) ([]FeedbackRecord, error)
}

// DefaultMemoryFeedback is the per-user feedback capacity of NewMemoryStore.
const DefaultMemoryFeedback = 500

// MemoryStore is an in-process Store. Feedback is kept per user in a ring,
// so the oldest records are dropped once a user reaches the capacity.
type MemoryStore struct {
	mu          sync.RWMutex
	profiles    map[string]Profile
	feedback    map[string]*measurement.Ring[FeedbackRecord]
	feedbackCap int
}

// NewMemoryStore creates an empty MemoryStore holding up to
// DefaultMemoryFeedback records per user.
func NewMemoryStore() *MemoryStore {
	return NewBoundedMemoryStore(DefaultMemoryFeedback)
}

// NewBoundedMemoryStore creates an empty MemoryStore holding up to
// perUser feedback records per user (minimum 1).
func NewBoundedMemoryStore(perUser int) *MemoryStore {
	return &MemoryStore{
		profiles:    make(map[string]Profile),
		feedback:    make(map[string]*measurement.Ring[FeedbackRecord]),
		feedbackCap: max(perUser, 1),
	}
}

func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p.clone(), nil
}

func (s *MemoryStore) PutProfile(ctx context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p.clone()
	return nil
}

func (s *MemoryStore) SaveFeedback(ctx context.Context, p Profile, rec FeedbackRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p.clone()
	r, ok := s.feedback[rec.UserID]
	if !ok {
		r = measurement.NewRing[FeedbackRecord](s.feedbackCap)
		s.feedback[rec.UserID] = r
	}
	r.Push(rec)
	return nil
}

func (s *MemoryStore) Feedback(ctx context.Context, userID string, limit int) ([]FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.feedback[userID]
	if !ok {
		return nil, nil
	}
	if limit <= 0 {
		return r.Items(), nil
	}
	return r.Last(limit), nil
}
