package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/recovery"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/timeutil"
)

func f64(v float64) *float64 { return &v }

func newTestEngine(t *testing.T) (*Engine, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewEngine(NewMemoryStore(), DefaultConfig(), WithClock(clock)), clock
}

func raw(sw, h, conf float64) measurement.Measurements {
	return measurement.Measurements{ShoulderWidth: sw, Height: h, Confidence: conf}
}

func TestApplyCalibration_NoProfile(t *testing.T) {
	e, _ := newTestEngine(t)
	m := raw(42, 170, 0.8)

	got, applied := e.ApplyCalibration(context.Background(), "alice", m)
	assert.False(t, applied)
	assert.Equal(t, m, got)

	got, applied = e.ApplyCalibration(context.Background(), "", m)
	assert.False(t, applied)
	assert.Equal(t, m, got)
}

func TestCalibrate(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	p, err := e.Calibrate(ctx, "alice", []Reference{
		{Observed: raw(40, 170, 0.9), KnownHeight: f64(180)},
		{Observed: raw(40, 160, 0.9), KnownHeight: f64(176)},
	})
	require.NoError(t, err)
	assert.InDelta(t, (180.0/170+176.0/160)/2, p.ScaleFactors.Height, 1e-9)
	assert.Equal(t, 1.0, p.ScaleFactors.ShoulderWidth, "no shoulder reference keeps the factor")
	assert.Len(t, p.References, 2)
	assert.Equal(t, clock.Now(), p.References[0].Timestamp)

	got, applied := e.ApplyCalibration(ctx, "alice", raw(40, 170, 0.9))
	assert.True(t, applied)
	assert.InDelta(t, 170*p.ScaleFactors.Height, got.Height, 1e-9)
	assert.Equal(t, 40.0, got.ShoulderWidth)

	p, err = e.Calibrate(ctx, "alice", []Reference{{Observed: raw(40, 170, 0.9), KnownHeight: f64(400), KnownShoulderWidth: f64(10)}})
	require.NoError(t, err)
	assert.Equal(t, 1.3, p.ScaleFactors.Height, "clamped to ScaleMax")
	assert.Equal(t, 0.7, p.ScaleFactors.ShoulderWidth, "clamped to ScaleMin")

	_, err = e.Calibrate(ctx, "alice", []Reference{{Observed: raw(0, 0, 0), KnownHeight: f64(170)}})
	assert.ErrorIs(t, err, ErrNoReferences)
	_, err = e.Calibrate(ctx, "", nil)
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestLearnFromFeedback_Step(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	p, err := e.LearnFromFeedback(ctx, "bob", raw(40, 170, 0.8), Feedback{KnownHeight: f64(180), AccuracyRating: 1})
	require.NoError(t, err)

	assert.InDelta(t, 1+0.3*(180.0/170-1), p.ScaleFactors.Height, 1e-9)
	assert.Equal(t, 1.0, p.ScaleFactors.ShoulderWidth)
	assert.InDelta(t, 1+0.3*(0.8-1), p.ScaleFactors.Confidence, 1e-9)
	require.Len(t, p.References, 1)

	recs, err := e.Store().Feedback(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, raw(40, 170, 0.8), recs[0].Calibrated, "first feedback is recorded against the unit profile")
	assert.NotEqual(t, uuid.Nil, recs[0].ID)
}

func TestLearnFromFeedback_InvalidRating(t *testing.T) {
	e, _ := newTestEngine(t)
	for _, r := range []int{0, 6, -1} {
		_, err := e.LearnFromFeedback(context.Background(), "bob", raw(40, 170, 0.8), Feedback{AccuracyRating: r})
		assert.ErrorIs(t, err, ErrInvalidRating)
	}
	_, err := e.Profile(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrNotFound, "rejected feedback creates nothing")
}

func TestRatingConfidence(t *testing.T) {
	assert.InDelta(t, 0.8, ratingConfidence(1), 1e-12)
	assert.InDelta(t, 0.9, ratingConfidence(3), 1e-12)
	assert.InDelta(t, 1.0, ratingConfidence(5), 1e-12)
}

// Repeated feedback for a tracker that under-reads height by a fixed factor
// moves the calibrated value toward the truth on every step.
func TestLearnFromFeedback_ConvergesToTruth(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	observed := raw(40, 170, 0.8)
	truth := 180.0

	prevErr := math.Inf(1)
	for i := 0; i < 15; i++ {
		cal, _ := e.ApplyCalibration(ctx, "carol", observed)
		errNow := math.Abs(cal.Height - truth)
		assert.Less(t, errNow, prevErr, "step %d", i)
		prevErr = errNow

		_, err := e.LearnFromFeedback(ctx, "carol", observed, Feedback{KnownHeight: f64(truth), AccuracyRating: 4})
		require.NoError(t, err)
	}
	assert.Less(t, prevErr, 1.0)

	st, err := e.AccuracyStats(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 15, st.Samples)
	assert.InDelta(t, 10, st.RawError.Height, 1e-9)
	assert.Less(t, st.CalibError.Height, st.RawError.Height)
	assert.Greater(t, st.Effectiveness, 0.0)
	assert.Equal(t, 4.0, st.MeanRating)
	assert.Equal(t, measurement.TrendStable, st.Trend)
}

func TestReferencesCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxReferences = 3
	e := NewEngine(nil, cfg)
	ctx := context.Background()

	var p Profile
	var err error
	for i := 0; i < 5; i++ {
		p, err = e.LearnFromFeedback(ctx, "dave", raw(40, 170+float64(i), 0.8), Feedback{KnownHeight: f64(175), AccuracyRating: 3})
		require.NoError(t, err)
	}
	require.Len(t, p.References, 3)
	assert.Equal(t, 172.0, p.References[0].Observed.Height, "oldest entries evicted first")
	assert.Equal(t, 174.0, p.References[2].Observed.Height)

	recs, err := e.Store().Feedback(ctx, "dave", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 173.0, recs[0].Observed.Height)
}

func TestAccuracyTrendAndSuggestions(t *testing.T) {
	ctx := context.Background()

	t.Run("no profile", func(t *testing.T) {
		e, _ := newTestEngine(t)
		s, err := e.Suggestions(ctx, "erin")
		require.NoError(t, err)
		assert.True(t, s.NeedsCalibration)
		assert.Equal(t, []string{SuggestCalibrate, SuggestMoreFeedback}, s.Suggestions)

		st, err := e.AccuracyStats(ctx, "erin")
		require.NoError(t, err)
		assert.False(t, st.HasProfile)
		assert.Equal(t, 0, st.Samples)
		assert.Equal(t, UnitScale(), st.ScaleFactors)
	})

	t.Run("improving", func(t *testing.T) {
		e, _ := newTestEngine(t)
		for _, r := range []int{2, 2, 4, 5} {
			_, err := e.LearnFromFeedback(ctx, "erin", raw(40, 170, 0.8), Feedback{KnownHeight: f64(172), AccuracyRating: r})
			require.NoError(t, err)
		}
		st, err := e.AccuracyStats(ctx, "erin")
		require.NoError(t, err)
		assert.Equal(t, measurement.TrendImproving, st.Trend)

		s, err := e.Suggestions(ctx, "erin")
		require.NoError(t, err)
		assert.False(t, s.NeedsCalibration)
		assert.Empty(t, s.Suggestions)
	})

	t.Run("degrading and low ratings", func(t *testing.T) {
		e, _ := newTestEngine(t)
		for _, r := range []int{4, 3, 1, 1} {
			_, err := e.LearnFromFeedback(ctx, "erin", raw(40, 170, 0.8), Feedback{KnownHeight: f64(172), AccuracyRating: r})
			require.NoError(t, err)
		}
		s, err := e.Suggestions(ctx, "erin")
		require.NoError(t, err)
		assert.True(t, s.NeedsCalibration)
		assert.Equal(t, []string{SuggestRecalibrate, SuggestReviewContext}, s.Suggestions)
	})

	t.Run("at scale limit", func(t *testing.T) {
		e, _ := newTestEngine(t)
		_, err := e.Calibrate(ctx, "erin", []Reference{{Observed: raw(40, 100, 0.8), KnownHeight: f64(180)}})
		require.NoError(t, err)
		s, err := e.Suggestions(ctx, "erin")
		require.NoError(t, err)
		assert.Contains(t, s.Suggestions, SuggestCheckSetup)
	})
}

func TestRatingTrend(t *testing.T) {
	assert.Equal(t, measurement.TrendStable, ratingTrend([]float64{1, 5, 5}))
	assert.Equal(t, measurement.TrendImproving, ratingTrend([]float64{1, 1, 3, 5, 5}))
	assert.Equal(t, measurement.TrendDegrading, ratingTrend([]float64{5, 5, 3, 1, 1}))
	assert.Equal(t, measurement.TrendStable, ratingTrend([]float64{3, 3, 3, 3}))
}

func TestStatsDoNotMutate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.LearnFromFeedback(ctx, "fay", raw(40, 170, 0.8), Feedback{KnownHeight: f64(175), AccuracyRating: 3})
	require.NoError(t, err)
	before, err := e.Profile(ctx, "fay")
	require.NoError(t, err)

	_, err = e.AccuracyStats(ctx, "fay")
	require.NoError(t, err)
	_, err = e.Suggestions(ctx, "fay")
	require.NoError(t, err)

	after, err := e.Profile(ctx, "fay")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestConcurrentFeedbackPerUser(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for u := 0; u < 4; u++ {
		user := fmt.Sprintf("user-%d", u)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.LearnFromFeedback(ctx, user, raw(40, 170, 0.8), Feedback{KnownHeight: f64(175), AccuracyRating: 3})
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	for u := 0; u < 4; u++ {
		user := fmt.Sprintf("user-%d", u)
		recs, err := e.Store().Feedback(ctx, user, 0)
		require.NoError(t, err)
		assert.Len(t, recs, 10, "no lost updates for %s", user)
		p, err := e.Profile(ctx, user)
		require.NoError(t, err)
		assert.Len(t, p.References, 10)
	}
}

type failingStore struct{ *MemoryStore }

var errDisk = errors.New("disk unavailable")

func (*failingStore) GetProfile(context.Context, string) (Profile, error) { return Profile{}, errDisk }

func TestStoreFailures(t *testing.T) {
	e := NewEngine(&failingStore{MemoryStore: NewMemoryStore()}, DefaultConfig())
	ctx := context.Background()
	m := raw(40, 170, 0.8)

	got, applied := e.ApplyCalibration(ctx, "gus", m)
	assert.False(t, applied)
	assert.Equal(t, m, got)

	_, err := e.LearnFromFeedback(ctx, "gus", m, Feedback{AccuracyRating: 3})
	assert.ErrorIs(t, err, errDisk)

	_, err = e.AccuracyStats(ctx, "gus")
	assert.ErrorIs(t, err, errDisk)
}

// flakyStore fails the first n SaveFeedback calls without writing anything.
type flakyStore struct {
	*MemoryStore
	mu    sync.Mutex
	fails int
}

func (s *flakyStore) SaveFeedback(ctx context.Context, p Profile, rec FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errDisk
	}
	return s.MemoryStore.SaveFeedback(ctx, p, rec)
}

func TestLearnFromFeedback_RetryAppliesOnce(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), fails: 1}
	e := NewEngine(store, DefaultConfig())
	ctx := context.Background()
	m := recovery.NewManager(recovery.Config{MaxRetries: 3, RetryDelay: time.Millisecond})

	observed := raw(40, 170, 0.8)
	_, out := recovery.Run(ctx, m, "model-update", func(ctx context.Context) (Profile, error) {
		return e.LearnFromFeedback(ctx, "hana", observed, Feedback{KnownHeight: f64(180), AccuracyRating: 4})
	})
	require.True(t, out.OK)
	assert.Equal(t, 2, out.Attempts)

	p, err := e.Profile(ctx, "hana")
	require.NoError(t, err)
	want := 1 + DefaultConfig().LearningRate*(180.0/170-1)
	assert.InDelta(t, want, p.ScaleFactors.Height, 1e-9, "a single learning step")
	assert.Len(t, p.References, 1)

	recs, err := store.Feedback(ctx, "hana", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMemoryStore_FeedbackBounded(t *testing.T) {
	s := NewBoundedMemoryStore(3)
	ctx := context.Background()
	p := Profile{UserID: "ivy", ScaleFactors: UnitScale()}
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveFeedback(ctx, p, FeedbackRecord{UserID: "ivy", Rating: i%5 + 1}))
	}

	recs, err := s.Feedback(ctx, "ivy", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{recs[0].Rating, recs[1].Rating, recs[2].Rating}, "oldest evicted first")

	last, err := s.Feedback(ctx, "ivy", 2)
	require.NoError(t, err)
	assert.Equal(t, 5, last[1].Rating)

	none, err := s.Feedback(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
