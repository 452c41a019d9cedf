package measurement

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGradeConfidenceBuckets(t *testing.T) {
	tests := []struct {
		c    float64
		want Quality
	}{
		{0.95, QualityExcellent},
		{0.9, QualityExcellent},
		{0.89, QualityGood},
		{0.7, QualityGood},
		{0.69, QualityFair},
		{0.5, QualityFair},
		{0.49, QualityPoor},
		{0.0, QualityPoor},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeConfidence(tt.c), "confidence %v", tt.c)
	}
}

func TestGradeQualityCapsBySeverity(t *testing.T) {
	tests := []struct {
		name      string
		c         float64
		anomalies []Anomaly
		want      Quality
	}{
		{"no anomalies", 0.95, nil, QualityExcellent},
		{"low does not cap", 0.95, []Anomaly{{Severity: SeverityLow}}, QualityExcellent},
		{"medium caps at good", 0.95, []Anomaly{{Severity: SeverityMedium}}, QualityGood},
		{"high caps at fair", 0.95, []Anomaly{{Severity: SeverityHigh}}, QualityFair},
		{"critical forces poor", 0.95, []Anomaly{{Severity: SeverityCritical}}, QualityPoor},
		{"cap never raises", 0.4, []Anomaly{{Severity: SeverityMedium}}, QualityPoor},
		{"worst wins", 0.8, []Anomaly{{Severity: SeverityLow}, {Severity: SeverityHigh}}, QualityFair},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GradeQuality(tt.c, tt.anomalies))
		})
	}
}

func TestGradeQualityMonotonicInConfidence(t *testing.T) {
	sets := [][]Anomaly{
		nil,
		{{Severity: SeverityLow}},
		{{Severity: SeverityMedium}, {Severity: SeverityLow}},
		{{Severity: SeverityHigh}},
		{{Severity: SeverityCritical}},
	}
	for _, set := range sets {
		prev := GradeQuality(0, set)
		for i := 1; i <= 100; i++ {
			q := GradeQuality(float64(i)/100, set)
			require.GreaterOrEqual(t, q, prev, "quality decreased at confidence %v", float64(i)/100)
			prev = q
		}
	}
}

func TestQualityJSONRoundTrip(t *testing.T) {
	b, err := json.Marshal(FusionResult{Quality: QualityGood, Source: SourceFusion})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"quality":"good"`)

	var back FusionResult
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, QualityGood, back.Quality)
}

func TestSeverityText(t *testing.T) {
	b, err := json.Marshal(Anomaly{Type: AnomalyTemporal, Severity: SeverityCritical})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"severity":"critical"`)

	var a Anomaly
	require.NoError(t, json.Unmarshal(b, &a))
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, "unknown", Severity(42).String())
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.3))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.4, Clamp01(0.4))
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
	assert.Equal(t, 0.7, Clamp(0.2, 0.7, 1.3))
	assert.Equal(t, 1.3, Clamp(2, 0.7, 1.3))
}

func TestMeasurementsRatio(t *testing.T) {
	assert.InDelta(t, 4.25, Measurements{ShoulderWidth: 40, Height: 170}.Ratio(), 1e-9)
	assert.Equal(t, 0.0, Measurements{ShoulderWidth: 0, Height: 170}.Ratio())
}

func TestMaxSeverity(t *testing.T) {
	_, ok := MaxSeverity(nil)
	assert.False(t, ok)

	worst, ok := MaxSeverity([]Anomaly{{Severity: SeverityMedium}, {Severity: SeverityHigh}, {Severity: SeverityLow}})
	assert.True(t, ok)
	assert.Equal(t, SeverityHigh, worst)
}

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		assert.False(t, r.Push(i))
	}
	assert.True(t, r.Push(4))
	assert.True(t, r.Push(5))

	assert.Equal(t, []int{3, 4, 5}, r.Items())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())

	newest, ok := r.Newest()
	require.True(t, ok)
	assert.Equal(t, 5, newest)
	assert.Equal(t, 3, r.At(0))
}

func TestRingLast(t *testing.T) {
	r := NewRing[int](5)
	assert.Nil(t, r.Last(3))
	for i := 0; i < 7; i++ {
		r.Push(i)
	}
	assert.Equal(t, []int{5, 6}, r.Last(2))
	assert.Equal(t, []int{2, 3, 4, 5, 6}, r.Last(10))
	assert.Nil(t, r.Last(0))
}

func TestRingResize(t *testing.T) {
	r := NewRing[int](5)
	for i := 0; i < 7; i++ {
		r.Push(i)
	}

	r.Resize(3)
	assert.Equal(t, []int{4, 5, 6}, r.Items())

	r.Resize(6)
	assert.Equal(t, []int{4, 5, 6}, r.Items())
	r.Push(7)
	assert.Equal(t, []int{4, 5, 6, 7}, r.Items())
	assert.Equal(t, 6, r.Cap())
}

func TestRingResetAndBounds(t *testing.T) {
	r := NewRing[string](0)
	assert.Equal(t, 1, r.Cap())
	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"b"}, r.Items())

	r.Reset()
	assert.Equal(t, 0, r.Len())
	_, ok := r.Newest()
	assert.False(t, ok)
	assert.Panics(t, func() { r.At(0) })
}
