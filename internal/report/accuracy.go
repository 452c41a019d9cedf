// Package report renders offline plots of calibration accuracy.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fsutil"
)

// ErrNoSamples is returned when no feedback record carries a known value.
var ErrNoSamples = errors.New("report: no feedback with known measurements")

var (
	rawColor    = color.RGBA{R: 220, G: 80, B: 60, A: 255}
	calibColor  = color.RGBA{R: 40, G: 140, B: 90, A: 255}
	ratingColor = color.RGBA{R: 70, G: 110, B: 200, A: 255}
)

// AccuracySeries is the per-feedback relative error of a user's raw and
// calibrated measurements, in percent, plus the accuracy rating.
type AccuracySeries struct {
	Raw        plotter.XYs
	Calibrated plotter.XYs
	Ratings    plotter.XYs
}

// relErr is the mean relative error of (sw, h) over the dimensions rec knows.
func relErr(sw, h float64, rec calibration.FeedbackRecord) (float64, bool) {
	var sum float64
	n := 0
	if k := rec.KnownShoulderWidth; k != nil && *k > 0 {
		sum += math.Abs(sw-*k) / *k
		n++
	}
	if k := rec.KnownHeight; k != nil && *k > 0 {
		sum += math.Abs(h-*k) / *k
		n++
	}
	if n == 0 {
		return 0, false
	}
	return 100 * sum / float64(n), true
}

// Series builds the accuracy series from feedback records, oldest first.
// Records without a known value contribute only their rating.
func Series(recs []calibration.FeedbackRecord) AccuracySeries {
	var s AccuracySeries
	for i, r := range recs {
		x := float64(i + 1)
		s.Ratings = append(s.Ratings, plotter.XY{X: x, Y: float64(r.Rating)})
		if e, ok := relErr(r.Observed.ShoulderWidth, r.Observed.Height, r); ok {
			s.Raw = append(s.Raw, plotter.XY{X: x, Y: e})
		}
		if e, ok := relErr(r.Calibrated.ShoulderWidth, r.Calibrated.Height, r); ok {
			s.Calibrated = append(s.Calibrated, plotter.XY{X: x, Y: e})
		}
	}
	return s
}

// AccuracyPlot charts raw against calibrated error for one user.
func AccuracyPlot(userID string, recs []calibration.FeedbackRecord) (*plot.Plot, error) {
	s := Series(recs)
	if len(s.Raw) == 0 {
		return nil, ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Measurement Error", userID)
	p.X.Label.Text = "Feedback"
	p.Y.Label.Text = "Relative error (%)"
	p.Y.Min = 0

	for _, l := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{
		{"raw", s.Raw, rawColor},
		{"calibrated", s.Calibrated, calibColor},
	} {
		line, points, err := plotter.NewLinePoints(l.pts)
		if err != nil {
			return nil, err
		}
		line.Color = l.c
		line.Width = vg.Points(1)
		points.Color = l.c
		p.Add(line, points)
		p.Legend.Add(l.name, line, points)
	}

	// Ratings share the axis scaled to 0..100.
	scaled := make(plotter.XYs, len(s.Ratings))
	for i, r := range s.Ratings {
		scaled[i] = plotter.XY{X: r.X, Y: (r.Y - 1) * 25}
	}
	sc, err := plotter.NewScatter(scaled)
	if err != nil {
		return nil, err
	}
	sc.Color = ratingColor
	p.Add(sc)
	p.Legend.Add("rating (1..5 as 0..100)", sc)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG renders p to path on fsys.
func WritePNG(fsys fsutil.FileSystem, path string, p *plot.Plot) error {
	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
