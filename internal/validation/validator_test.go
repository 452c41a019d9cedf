package validation

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

func result(sw, h, conf float64) measurement.FusionResult {
	return measurement.FusionResult{
		Measurements: measurement.Measurements{ShoulderWidth: sw, Height: h, Confidence: conf},
		Source:       measurement.SourceFusion,
		SourceCount:  2,
		Timestamp:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func historyOf(sws ...float64) []measurement.FusionResult {
	out := make([]measurement.FusionResult, len(sws))
	for i, sw := range sws {
		out[i] = result(sw, 170, 0.9)
	}
	return out
}

// alternatingHistory returns n entries of 44/46 cm, ending on 46.
func alternatingHistory(n int) []measurement.FusionResult {
	sws := make([]float64, n)
	for i := range sws {
		sws[i] = 44
		if (n-1-i)%2 == 0 {
			sws[i] = 46
		}
	}
	return historyOf(sws...)
}

func ofType(as []measurement.Anomaly, t measurement.AnomalyType) []measurement.Anomaly {
	var out []measurement.Anomaly
	for _, a := range as {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

func TestValidate_CleanMeasurement(t *testing.T) {
	v := New(DefaultConfig())

	got := v.Validate(result(45, 170, 0.9), nil, measurement.IdealContext())

	assert.True(t, got.IsValid)
	assert.Empty(t, got.Anomalies)
	assert.Empty(t, got.Patterns)
	assert.Empty(t, got.Recommendations)
	assert.Equal(t, measurement.QualityExcellent, got.Quality)
	assert.InDelta(t, 0.943, got.Confidence, 0.01)
	for _, name := range []string{"confidence", "consistency", "proportion", "context", "learned"} {
		assert.Contains(t, got.Scores, name)
	}
}

func TestValidate_ImplausibleRatio(t *testing.T) {
	v := New(DefaultConfig())

	got := v.Validate(result(30, 170, 0.9), nil, measurement.IdealContext())

	props := ofType(got.Anomalies, measurement.AnomalyProportional)
	require.Len(t, props, 1)
	a := props[0]
	assert.GreaterOrEqual(t, a.Severity, measurement.SeverityMedium)
	assert.Equal(t, measurement.SeverityHigh, a.Severity)
	require.NotNil(t, a.Correction)
	assert.Equal(t, measurement.CorrectionScale, a.Correction.Type)
	assert.InDelta(t, 42.5/30, a.Correction.Value, 1e-9, "scaling shoulder width restores the 4.0 bound")

	assert.False(t, got.IsValid, "high severity invalidates")
	assert.Equal(t, []string{RecCheckPositioning}, got.Recommendations)
	assert.Equal(t, measurement.QualityFair, got.Quality)
}

func TestValidate_NonPositiveShoulderWidth(t *testing.T) {
	v := New(DefaultConfig())

	got := v.Validate(result(0, 170, 0.9), nil, measurement.IdealContext())

	require.Len(t, got.Anomalies, 1)
	assert.Equal(t, measurement.SeverityCritical, got.Anomalies[0].Severity)
	assert.Nil(t, got.Anomalies[0].Correction)
	assert.False(t, got.IsValid)
	assert.Equal(t, measurement.QualityPoor, got.Quality)
}

func TestProportionalSeverityBands(t *testing.T) {
	v := New(DefaultConfig())
	tests := []struct {
		name string
		sw   float64
		want measurement.Severity
	}{
		{"just above", 170 / 4.2, measurement.SeverityLow},    // dev 0.05
		{"medium", 170 / 4.8, measurement.SeverityMedium},     // dev 0.2
		{"high", 170 / 5.6, measurement.SeverityHigh},         // dev 0.4
		{"critical", 170 / 6.4, measurement.SeverityCritical}, // dev 0.6
		{"below", 170 / 2.2, measurement.SeverityMedium},      // dev 0.12
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			as := v.proportional(measurement.Measurements{ShoulderWidth: tt.sw, Height: 170, Confidence: 1})
			require.Len(t, as, 1)
			assert.Equal(t, tt.want, as[0].Severity)
		})
	}

	assert.Empty(t, v.proportional(measurement.Measurements{ShoulderWidth: 50, Height: 170}))
}

func TestStatisticalAnomaly(t *testing.T) {
	v := New(DefaultConfig())
	hist := alternatingHistory(10) // mean 45, sample stddev ~1.054

	t.Run("high", func(t *testing.T) {
		got := v.Validate(result(50, 170, 0.9), hist, measurement.IdealContext())
		require.Len(t, got.Anomalies, 1)
		a := got.Anomalies[0]
		assert.Equal(t, measurement.AnomalyStatistical, a.Type)
		assert.Equal(t, measurement.DimShoulderWidth, a.Dimension)
		assert.Equal(t, measurement.SeverityHigh, a.Severity)
		assert.Equal(t, 1.0, a.Confidence)
		require.NotNil(t, a.Correction)
		assert.InDelta(t, 0.9, a.Correction.Value, 1e-9)
		assert.Equal(t, []string{RecVerifyAccuracy}, got.Recommendations)
		assert.False(t, got.IsValid)
	})

	t.Run("medium", func(t *testing.T) {
		got := v.Validate(result(48, 170, 0.9), hist, measurement.IdealContext())
		require.Len(t, got.Anomalies, 1)
		assert.Equal(t, measurement.SeverityMedium, got.Anomalies[0].Severity)
	})

	t.Run("within threshold", func(t *testing.T) {
		got := v.Validate(result(47, 170, 0.9), hist, measurement.IdealContext())
		assert.Empty(t, ofType(got.Anomalies, measurement.AnomalyStatistical))
	})

	t.Run("insufficient history", func(t *testing.T) {
		got := v.Validate(result(60, 170, 0.9), alternatingHistory(4), measurement.IdealContext())
		assert.Empty(t, ofType(got.Anomalies, measurement.AnomalyStatistical))
	})

	t.Run("fallback entries ignored", func(t *testing.T) {
		short := alternatingHistory(4)
		fb := result(42, 170, 0.3)
		fb.Source = measurement.SourceFallback
		got := v.Validate(result(60, 170, 0.9), append(short, fb), measurement.IdealContext())
		assert.Empty(t, ofType(got.Anomalies, measurement.AnomalyStatistical))
	})
}

func TestTemporalAnomaly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinHistory = 100 // isolate from the z-score detector
	v := New(cfg)
	hist := historyOf(45, 45.2, 45, 45.2, 45)

	tests := []struct {
		name string
		sw   float64
		want []measurement.Severity
	}{
		{"small change", 46, nil},
		{"ratio 5", 47.5, []measurement.Severity{measurement.SeverityMedium}},
		{"ratio 8", 49, []measurement.Severity{measurement.SeverityHigh}},
		{"ratio 12", 51, []measurement.Severity{measurement.SeverityCritical}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ofType(v.Validate(result(tt.sw, 170, 0.9), hist, measurement.IdealContext()).Anomalies, measurement.AnomalyTemporal)
			var sev []measurement.Severity
			for _, a := range got {
				sev = append(sev, a.Severity)
				require.NotNil(t, a.Correction)
				assert.Equal(t, measurement.CorrectionFilter, a.Correction.Type)
				assert.Equal(t, 0.5, a.Correction.Value)
			}
			if diff := cmp.Diff(tt.want, sev); diff != "" {
				t.Errorf("severities mismatch (-want +got):\n%s", diff)
			}
		})
	}

	got := v.Validate(result(60, 170, 0.9), historyOf(45, 45), measurement.IdealContext())
	assert.Empty(t, ofType(got.Anomalies, measurement.AnomalyTemporal), "needs three entries")
}

func TestTemporalSingleEntryWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TemporalWindow = 1
	v := New(cfg)

	got := v.Validate(result(45, 170, 0.9), historyOf(45, 45, 45, 45, 45, 45), measurement.IdealContext())
	assert.Empty(t, ofType(got.Anomalies, measurement.AnomalyTemporal))
	assert.True(t, got.IsValid)
}

func TestValidate_FallbackSkipsNumericChecks(t *testing.T) {
	v := New(DefaultConfig())
	fb := result(42, 170, 0.3)
	fb.Source = measurement.SourceFallback

	got := v.Validate(fb, historyOf(45, 45.2, 45, 45.2, 45, 45.1), measurement.IdealContext())
	assert.Empty(t, got.Anomalies, "170/42 is outside the ratio band but no body was measured")
	assert.NotContains(t, got.Recommendations, RecCheckPositioning)
	assert.Equal(t, measurement.QualityPoor, got.Quality)

	poor := measurement.IdealContext()
	poor.Lighting = measurement.LightingPoor
	got = v.Validate(fb, nil, poor)
	assert.NotEmpty(t, ofType(got.Anomalies, measurement.AnomalyContextual), "context still applies")
}

func TestContextualAnomalies(t *testing.T) {
	v := New(DefaultConfig())
	cond := measurement.Context{Lighting: measurement.LightingPoor, Distance: measurement.DistanceTooFar, Pose: measurement.PosePoor}

	got := v.Validate(result(45, 170, 0.9), nil, cond)

	require.Len(t, got.Anomalies, 3)
	wantConf := map[measurement.Dimension]float64{
		measurement.DimLighting: 0.8,
		measurement.DimDistance: 0.7,
		measurement.DimPose:     0.75,
	}
	for _, a := range got.Anomalies {
		assert.Equal(t, measurement.AnomalyContextual, a.Type)
		assert.Equal(t, measurement.SeverityMedium, a.Severity)
		assert.Equal(t, wantConf[a.Dimension], a.Confidence)
	}
	assert.Equal(t, []string{RecImproveConditions, RecBrighterLight, RecMoveCloser, RecFaceCamera}, got.Recommendations)
	assert.True(t, got.IsValid, "medium anomalies alone do not invalidate")
	assert.Equal(t, measurement.QualityGood, got.Quality)

	fair := v.Validate(result(45, 170, 0.9), nil, measurement.Context{Lighting: measurement.LightingFair, Distance: measurement.DistanceOptimal, Pose: measurement.PoseOptimal})
	require.Len(t, fair.Anomalies, 1)
	assert.Equal(t, measurement.SeverityLow, fair.Anomalies[0].Severity)
	assert.Equal(t, 0.5, fair.Anomalies[0].Confidence)
}

func TestThresholdInvalidWithoutAnomalies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceThreshold = 0.99
	v := New(cfg)

	got := v.Validate(result(45, 170, 0.9), nil, measurement.IdealContext())

	assert.Empty(t, got.Anomalies)
	assert.False(t, got.IsValid)
	assert.Equal(t, []string{RecRetake}, got.Recommendations)
}

func TestRecommendationsDeduplicatedAndOrdered(t *testing.T) {
	anomalies := []measurement.Anomaly{
		{Type: measurement.AnomalyProportional},
		{Type: measurement.AnomalyTemporal},
		{Type: measurement.AnomalyStatistical},
		{Type: measurement.AnomalyStatistical},
		{Type: measurement.AnomalyContextual},
	}
	cond := measurement.Context{Lighting: measurement.LightingGood, Distance: measurement.DistanceTooClose, Pose: measurement.PoseOptimal}

	got := recommend(anomalies, cond, false)

	want := []string{RecImproveConditions, RecStepBack, RecVerifyAccuracy, RecHoldStill, RecCheckPositioning}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("recommendations mismatch (-want +got):\n%s", diff)
	}
}

func TestAdvancedToggle(t *testing.T) {
	v := New(DefaultConfig())
	hist := historyOf(40, 41, 42)

	on := v.Validate(result(43, 170, 0.9), hist, measurement.IdealContext())
	assert.Contains(t, on.Scores, "learned")
	assert.NotEmpty(t, on.Patterns)

	v.SetAdvanced(false)
	assert.False(t, v.Advanced())
	off := v.Validate(result(43, 170, 0.9), hist, measurement.IdealContext())
	assert.NotContains(t, off.Scores, "learned")
	assert.Empty(t, off.Patterns)
}

type constScorer float64

func (constScorer) Name() string            { return "const" }
func (c constScorer) Score(Features) float64 { return float64(c) }

func TestAddScorer(t *testing.T) {
	v := New(DefaultConfig())
	base := v.Validate(result(45, 170, 0.9), nil, measurement.IdealContext())

	v.AddScorer(constScorer(0), 10)
	v.AddScorer(nil, 1)
	v.AddScorer(constScorer(1), 0)
	got := v.Validate(result(45, 170, 0.9), nil, measurement.IdealContext())

	assert.Equal(t, 0.0, got.Scores["const"])
	assert.Less(t, got.Confidence, base.Confidence)
}

func TestCombinePenalties(t *testing.T) {
	scorers := []weighted{{scorer: constScorer(0.8), weight: 1}}

	score, _ := combine(Features{}, scorers, true, nil)
	assert.InDelta(t, 0.8, score, 1e-9)

	score, _ = combine(Features{}, scorers, true, []measurement.Anomaly{
		{Severity: measurement.SeverityLow, Confidence: 1},
		{Severity: measurement.SeverityCritical, Confidence: 0.5},
	})
	assert.InDelta(t, 0.8-0.05-0.175, score, 1e-9)

	score, _ = combine(Features{}, scorers, true, []measurement.Anomaly{
		{Severity: measurement.SeverityCritical, Confidence: 1},
		{Severity: measurement.SeverityCritical, Confidence: 1},
		{Severity: measurement.SeverityCritical, Confidence: 1},
	})
	assert.Equal(t, 0.0, score, "clamped at zero")
}

func TestBuiltinScorers(t *testing.T) {
	f := Features{
		Current:  measurement.Measurements{ShoulderWidth: 49.5, Height: 170, Confidence: 0.7},
		History:  []measurement.Measurements{{ShoulderWidth: 45, Height: 170}, {ShoulderWidth: 45, Height: 170}},
		Context:  measurement.IdealContext(),
		RatioMin: 2.5,
		RatioMax: 4.0,
	}
	assert.InDelta(t, 0.7, ConfidenceScorer{}.Score(f), 1e-9)
	assert.InDelta(t, 0.75, ConsistencyScorer{}.Score(f), 1e-9)
	assert.Equal(t, 1.0, ProportionScorer{}.Score(f))
	assert.InDelta(t, 2.9/3, ContextScorer{}.Score(f), 1e-9)

	f.Current.ShoulderWidth = 30
	assert.InDelta(t, 1-(170.0/30-4)/4/0.5, ProportionScorer{}.Score(f), 1e-9)
	f.History = nil
	assert.Equal(t, 1.0, ConsistencyScorer{}.Score(f))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	v := New(DefaultConfig(), WithMetrics(m))

	v.Validate(result(30, 170, 0.9), nil, measurement.IdealContext())
	v.Validate(result(45, 170, 0.9), nil, measurement.IdealContext())

	assert.Equal(t, 1.0, promtest.ToFloat64(m.anomalies.WithLabelValues("proportional", "high")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.results.WithLabelValues("true")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.results.WithLabelValues("false")))
}

func TestConcurrentValidateAndTrain(t *testing.T) {
	v := New(DefaultConfig())
	known := 170.0
	hist := alternatingHistory(10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			v.Validate(result(45, 171, 0.8), hist, measurement.IdealContext())
		}()
		go func() {
			defer wg.Done()
			_ = v.TrainWithFeedback(Sample{Observed: measurement.Measurements{ShoulderWidth: 45, Height: 171, Confidence: 0.8}, KnownHeight: &known})
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, v.TrainingStats().Updates)
}
