package report

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotter"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fsutil"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

func f64(v float64) *float64 { return &v }

func records() []calibration.FeedbackRecord {
	return []calibration.FeedbackRecord{
		{
			Observed:    measurement.Measurements{ShoulderWidth: 40, Height: 160},
			Calibrated:  measurement.Measurements{ShoulderWidth: 40, Height: 160},
			KnownHeight: f64(200),
			Rating:      2,
		},
		{
			Observed:   measurement.Measurements{ShoulderWidth: 40, Height: 160},
			Calibrated: measurement.Measurements{ShoulderWidth: 44, Height: 176},
			Rating:     3,
		},
		{
			Observed:           measurement.Measurements{ShoulderWidth: 40, Height: 180},
			Calibrated:         measurement.Measurements{ShoulderWidth: 50, Height: 198},
			KnownHeight:        f64(200),
			KnownShoulderWidth: f64(50),
			Rating:             5,
		},
	}
}

func TestSeries(t *testing.T) {
	s := Series(records())

	want := AccuracySeries{
		Raw:        plotter.XYs{{X: 1, Y: 20}, {X: 3, Y: 15}},
		Calibrated: plotter.XYs{{X: 1, Y: 20}, {X: 3, Y: 0.5}},
		Ratings:    plotter.XYs{{X: 1, Y: 2}, {X: 2, Y: 3}, {X: 3, Y: 5}},
	}
	if diff := cmp.Diff(want, s, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Series mismatch (-want +got):\n%s", diff)
	}
}

func TestAccuracyPlot_NoSamples(t *testing.T) {
	_, err := AccuracyPlot("u1", records()[1:2])
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = AccuracyPlot("u1", nil)
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestWritePNG(t *testing.T) {
	p, err := AccuracyPlot("u1", records())
	require.NoError(t, err)
	assert.Equal(t, "u1 - Measurement Error", p.Title.Text)

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, WritePNG(fsys, "/plots/u1/accuracy.png", p))

	assert.True(t, fsys.Exists("/plots/u1"))
	data, err := fsys.ReadFile("/plots/u1/accuracy.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "expected a PNG header")
}
