package validation

import (
	"errors"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// ErrNoGroundTruth is returned by TrainWithFeedback when a sample carries no
// known dimension to learn from.
var ErrNoGroundTruth = errors.New("validation: sample has no known measurement")

// Sample is a labeled observation: what the engine produced and what the
// user confirmed.
type Sample struct {
	Observed           measurement.Measurements `json:"observed"`
	Context            measurement.Context      `json:"context"`
	KnownHeight        *float64                 `json:"known_height,omitempty"`
	KnownShoulderWidth *float64                 `json:"known_shoulder_width,omitempty"`
}

// Accuracy returns 1 minus the mean relative error over the known
// dimensions, clamped to [0,1].
func (s Sample) Accuracy() (float64, error) {
	var sum float64
	n := 0
	add := func(known *float64, observed float64) {
		if known == nil || *known <= 0 {
			return
		}
		sum += math.Abs(observed-*known) / *known
		n++
	}
	add(s.KnownHeight, s.Observed.Height)
	add(s.KnownShoulderWidth, s.Observed.ShoulderWidth)
	if n == 0 {
		return 0, ErrNoGroundTruth
	}
	return measurement.Clamp01(1 - sum/float64(n)), nil
}

type trainingRecord struct {
	x     []float64
	label float64
}

// TrainingStats summarises the rolling training set.
type TrainingStats struct {
	Samples  int       `json:"samples"`
	Capacity int       `json:"capacity"`
	Updates  int       `json:"updates"`
	MeanLoss float64   `json:"mean_loss"`
	Weights  []float64 `json:"weights"`
}

// TrainWithFeedback folds one labeled sample into the learned scorer with a
// single clipped gradient step. The sample joins a rolling set capped at
// TrainingCap; the oldest sample is evicted past the cap.
func (v *Validator) TrainWithFeedback(s Sample) error {
	label, err := s.Accuracy()
	if err != nil {
		return err
	}
	x := featureVector(Features{
		Current:  s.Observed,
		Context:  s.Context,
		RatioMin: v.cfg.RatioMin,
		RatioMax: v.cfg.RatioMax,
	})

	v.mu.Lock()
	model := v.model.clone()
	loss := model.step(x, label, v.cfg.LearningRate)
	v.model = model
	v.training.Push(trainingRecord{x: x, label: label})
	v.updates++
	updates := v.updates
	v.mu.Unlock()

	v.log.WithFields(logrus.Fields{
		"label":   label,
		"loss":    loss,
		"updates": updates,
	}).Debug("learned scorer updated")
	return nil
}

// TrainingStats reports the rolling set size, update count and the mean
// squared error of the current model over the set.
func (v *Validator) TrainingStats() TrainingStats {
	v.mu.RLock()
	defer v.mu.RUnlock()

	records := v.training.Items()
	st := TrainingStats{
		Samples:  len(records),
		Capacity: v.training.Cap(),
		Updates:  v.updates,
		Weights:  append([]float64(nil), v.model.Weights...),
	}
	if len(records) == 0 {
		return st
	}
	var sum float64
	for _, r := range records {
		d := v.model.Predict(r.x) - r.label
		sum += d * d
	}
	st.MeanLoss = sum / float64(len(records))
	return st
}
