package sources

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fusion"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// Func adapts a plain function into a fusion.Query. fn reports false when it
// has no estimate this cycle.
func Func(fn func() (measurement.RawEstimate, bool)) fusion.Query {
	return func(context.Context) (*measurement.RawEstimate, error) {
		est, ok := fn()
		if !ok {
			return nil, nil
		}
		return &est, nil
	}
}

// Static always answers m.
func Static(m measurement.Measurements) fusion.Query {
	return Func(func() (measurement.RawEstimate, bool) {
		return measurement.RawEstimate{
			ShoulderWidth: m.ShoulderWidth,
			Height:        m.Height,
			Confidence:    m.Confidence,
		}, true
	})
}

// Synthetic is a seeded tracker that answers Base plus Gaussian noise and
// drops a fraction of cycles. It stands in for real trackers in demos and
// load tests.
type Synthetic struct {
	Base measurement.Measurements
	// Noise is the standard deviation in cm added to each length.
	Noise float64
	// DropRate is the probability in [0,1] of answering nil.
	DropRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthetic creates a Synthetic tracker with a deterministic seed.
func NewSynthetic(base measurement.Measurements, noise, dropRate float64, seed uint64) *Synthetic {
	return &Synthetic{
		Base:     base,
		Noise:    noise,
		DropRate: dropRate,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Query returns the tracker as a fusion.Query.
func (s *Synthetic) Query() fusion.Query {
	return Func(s.sample)
}

func (s *Synthetic) sample() (measurement.RawEstimate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Float64() < s.DropRate {
		return measurement.RawEstimate{}, false
	}
	return measurement.RawEstimate{
		ShoulderWidth: s.Base.ShoulderWidth + s.rng.NormFloat64()*s.Noise,
		Height:        s.Base.Height + s.rng.NormFloat64()*s.Noise,
		Confidence:    measurement.Clamp01(s.Base.Confidence + s.rng.NormFloat64()*0.05),
	}, true
}
