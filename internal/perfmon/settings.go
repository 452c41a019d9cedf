package perfmon

import (
	"time"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/config"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
)

// Thresholds are the resource limits beyond which degraded settings are
// recommended.
type Thresholds struct {
	MaxFrameTime time.Duration
	MaxMemoryMB  float64
	MinBattery   float64

	BaseInterval        time.Duration
	NormalHistorySize   int
	DegradedHistorySize int
	// NormalMaxSources of 0 means every configured source is queried.
	NormalMaxSources   int
	DegradedMaxSources int
}

// ThresholdsFromEngine builds Thresholds from a loaded EngineConfig.
func ThresholdsFromEngine(cfg *config.EngineConfig) Thresholds {
	return Thresholds{
		MaxFrameTime:        cfg.GetMaxFrameTime(),
		MaxMemoryMB:         cfg.GetMaxMemoryMB(),
		MinBattery:          cfg.GetMinBattery(),
		BaseInterval:        cfg.GetBaseProcessingInterval(),
		NormalHistorySize:   cfg.GetHistorySize(),
		DegradedHistorySize: cfg.GetDegradedHistorySize(),
		DegradedMaxSources:  cfg.GetDegradedMaxSources(),
	}
}

// Settings is an advisory engine configuration.
type Settings struct {
	ProcessingInterval       time.Duration `json:"processing_interval"`
	HistorySize              int           `json:"history_size"`
	EnableAdvancedValidation bool          `json:"enable_advanced_validation"`
	// MaxSources of 0 means no cap.
	MaxSources int      `json:"max_sources"`
	Reasons    []string `json:"reasons"`
}

// Degraded reports whether any limit was exceeded.
func (s Settings) Degraded() bool { return len(s.Reasons) > 0 }

// NormalSettings are the settings recommended when no limit is exceeded.
func NormalSettings(th Thresholds) Settings {
	return Settings{
		ProcessingInterval:       th.BaseInterval,
		HistorySize:              th.NormalHistorySize,
		EnableAdvancedValidation: true,
		MaxSources:               th.NormalMaxSources,
		Reasons:                  []string{},
	}
}

// OptimalSettings recommends settings for the observed load. It is a pure
// function of its inputs:
//
//   - slow frames widen the processing interval and disable advanced validation
//   - high memory shrinks the history buffer and disables advanced validation
//   - low battery widens the interval, caps the source count and disables
//     advanced validation
//   - a degrading trend close to the frame limit disables advanced validation
func OptimalSettings(st Stats, th Thresholds) Settings {
	s := NormalSettings(th)
	if st.Samples == 0 {
		return s
	}

	if th.MaxFrameTime > 0 && st.AvgFrameTime > th.MaxFrameTime {
		s.ProcessingInterval *= 2
		s.EnableAdvancedValidation = false
		s.Reasons = append(s.Reasons, "frame_time")
	}
	if th.MaxMemoryMB > 0 && st.AvgMemoryMB > th.MaxMemoryMB {
		if th.DegradedHistorySize > 0 && (s.HistorySize == 0 || th.DegradedHistorySize < s.HistorySize) {
			s.HistorySize = th.DegradedHistorySize
		}
		s.EnableAdvancedValidation = false
		s.Reasons = append(s.Reasons, "memory")
	}
	if st.Latest.BatteryLevel < th.MinBattery {
		s.ProcessingInterval *= 2
		if th.DegradedMaxSources > 0 && (s.MaxSources == 0 || th.DegradedMaxSources < s.MaxSources) {
			s.MaxSources = th.DegradedMaxSources
		}
		s.EnableAdvancedValidation = false
		s.Reasons = append(s.Reasons, "battery")
	}
	if st.Trend == measurement.TrendDegrading && th.MaxFrameTime > 0 &&
		st.AvgFrameTime > th.MaxFrameTime*8/10 && s.EnableAdvancedValidation {
		s.EnableAdvancedValidation = false
		s.Reasons = append(s.Reasons, "frame_time_trend")
	}
	return s
}
