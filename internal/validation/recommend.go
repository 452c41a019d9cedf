package validation

import "github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"

// Recommendation texts surfaced to the user.
const (
	RecImproveConditions = "improve measurement conditions"
	RecBrighterLight     = "move to a brighter, evenly lit area"
	RecStepBack          = "step back from the camera"
	RecMoveCloser        = "move closer to the camera"
	RecOptimalDistance   = "stand at the marked distance from the camera"
	RecFaceCamera        = "face the camera with arms slightly away from the body"
	RecVerifyAccuracy    = "verify measurement accuracy"
	RecHoldStill         = "hold still and retake the measurement"
	RecCheckPositioning  = "check body positioning"
	RecRetake            = "retake measurement"
)

var recommendOrder = []measurement.AnomalyType{
	measurement.AnomalyContextual,
	measurement.AnomalyStatistical,
	measurement.AnomalyTemporal,
	measurement.AnomalyProportional,
}

// recommend maps fired anomaly types to guidance in a fixed order without
// duplicates.
func recommend(anomalies []measurement.Anomaly, cond measurement.Context, valid bool) []string {
	fired := make(map[measurement.AnomalyType]bool)
	for _, a := range anomalies {
		fired[a.Type] = true
	}

	out := []string{}
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, t := range recommendOrder {
		if !fired[t] {
			continue
		}
		switch t {
		case measurement.AnomalyContextual:
			add(RecImproveConditions)
			if cond.Lighting == measurement.LightingPoor || cond.Lighting == measurement.LightingFair {
				add(RecBrighterLight)
			}
			switch cond.Distance {
			case measurement.DistanceTooClose:
				add(RecStepBack)
			case measurement.DistanceTooFar:
				add(RecMoveCloser)
			case measurement.DistanceOptimal, "":
			default:
				add(RecOptimalDistance)
			}
			if cond.Pose == measurement.PosePoor {
				add(RecFaceCamera)
			}
		case measurement.AnomalyStatistical:
			add(RecVerifyAccuracy)
		case measurement.AnomalyTemporal:
			add(RecHoldStill)
		case measurement.AnomalyProportional:
			add(RecCheckPositioning)
		}
	}
	if !valid && len(anomalies) == 0 {
		add(RecRetake)
	}
	return out
}
