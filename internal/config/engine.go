package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical engine defaults file.
const DefaultConfigPath = "config/engine.defaults.json"

// Fusion strategy names accepted by fusion_strategy.
const (
	StrategyBest      = "best"
	StrategyConsensus = "consensus"
	StrategyWeighted  = "weighted"
)

// EngineConfig represents the root configuration for the measurement engine.
// Every field is optional; the Get* accessors supply defaults for anything
// omitted so that partial files are safe.
type EngineConfig struct {
	// Fusion params
	FusionStrategy       *string  `json:"fusion_strategy,omitempty"`
	HistorySize          *int     `json:"history_size,omitempty"`
	SourceTimeout        *string  `json:"source_timeout,omitempty"` // duration string like "2s"
	DefaultShoulderWidth *float64 `json:"default_shoulder_width,omitempty"`
	DefaultHeight        *float64 `json:"default_height,omitempty"`
	AutoDegrade          *bool    `json:"auto_degrade,omitempty"`

	// Validation params
	ConfidenceThreshold    *float64 `json:"confidence_threshold,omitempty"`
	MinHistory             *int     `json:"min_history,omitempty"`
	StatWindow             *int     `json:"stat_window,omitempty"`
	ZScoreThreshold        *float64 `json:"z_score_threshold,omitempty"`
	ZScoreHigh             *float64 `json:"z_score_high,omitempty"`
	TemporalWindow         *int     `json:"temporal_window,omitempty"`
	TemporalRatio          *float64 `json:"temporal_ratio,omitempty"`
	MinTemporalChange      *float64 `json:"min_temporal_change,omitempty"`
	RatioMin               *float64 `json:"ratio_min,omitempty"`
	RatioMax               *float64 `json:"ratio_max,omitempty"`
	RatioTolerance         *float64 `json:"ratio_tolerance,omitempty"`
	TrainingCap            *int     `json:"training_cap,omitempty"`
	ValidationLearningRate *float64 `json:"validation_learning_rate,omitempty"`

	// Recovery params
	MaxRetries *int    `json:"max_retries,omitempty"`
	RetryDelay *string `json:"retry_delay,omitempty"` // duration string like "500ms"

	// Calibration params
	CalibrationLearningRate *float64 `json:"calibration_learning_rate,omitempty"`
	ScaleMin                *float64 `json:"scale_min,omitempty"`
	ScaleMax                *float64 `json:"scale_max,omitempty"`
	MaxReferences           *int     `json:"max_references,omitempty"`

	// Performance monitor params
	PerfBufferSize         *int     `json:"perf_buffer_size,omitempty"`
	TrendWindow            *int     `json:"trend_window,omitempty"`
	MaxFrameTime           *string  `json:"max_frame_time,omitempty"`
	MaxMemoryMB            *float64 `json:"max_memory_mb,omitempty"`
	MinBattery             *float64 `json:"min_battery,omitempty"`
	BaseProcessingInterval *string  `json:"base_processing_interval,omitempty"`
	DegradedHistorySize    *int     `json:"degraded_history_size,omitempty"`
	DegradedMaxSources     *int     `json:"degraded_max_sources,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyEngineConfig returns an EngineConfig with all fields set to nil.
func EmptyEngineConfig() *EngineConfig {
	return &EngineConfig{}
}

// LoadEngineConfig loads an EngineConfig from a JSON file.
// The file must have a .json extension and be under the max file size.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEngineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MinStatisticalHistory is the smallest history the z-score detector may
// run on.
const MinStatisticalHistory = 5

// Validate checks that the configuration values are valid.
func (c *EngineConfig) Validate() error {
	if c.FusionStrategy != nil {
		switch *c.FusionStrategy {
		case StrategyBest, StrategyConsensus, StrategyWeighted:
		default:
			return fmt.Errorf("fusion_strategy must be one of best, consensus, weighted, got %q", *c.FusionStrategy)
		}
	}

	for name, f := range map[string]struct {
		v   *int
		min int
	}{
		"history_size":     {c.HistorySize, 1},
		"min_history":      {c.MinHistory, MinStatisticalHistory},
		"stat_window":      {c.StatWindow, 1},
		"temporal_window":  {c.TemporalWindow, 2},
		"training_cap":     {c.TrainingCap, 1},
		"max_retries":      {c.MaxRetries, 1},
		"max_references":   {c.MaxReferences, 1},
		"perf_buffer_size": {c.PerfBufferSize, 1},
		"trend_window":     {c.TrendWindow, 1},
	} {
		if f.v != nil && *f.v < f.min {
			return fmt.Errorf("%s must be at least %d, got %d", name, f.min, *f.v)
		}
	}

	for name, v := range map[string]*float64{
		"confidence_threshold":      c.ConfidenceThreshold,
		"validation_learning_rate":  c.ValidationLearningRate,
		"calibration_learning_rate": c.CalibrationLearningRate,
		"min_battery":               c.MinBattery,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	if c.GetRatioMin() >= c.GetRatioMax() {
		return fmt.Errorf("ratio_min (%f) must be below ratio_max (%f)", c.GetRatioMin(), c.GetRatioMax())
	}
	if c.GetScaleMin() <= 0 || c.GetScaleMin() >= c.GetScaleMax() {
		return fmt.Errorf("scale range [%f, %f] is invalid", c.GetScaleMin(), c.GetScaleMax())
	}
	if c.GetStatWindow() < c.GetMinHistory() {
		return fmt.Errorf("stat_window (%d) must be at least min_history (%d)", c.GetStatWindow(), c.GetMinHistory())
	}

	for name, v := range map[string]*string{
		"source_timeout":           c.SourceTimeout,
		"retry_delay":              c.RetryDelay,
		"max_frame_time":           c.MaxFrameTime,
		"base_processing_interval": c.BaseProcessingInterval,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetFusionStrategy returns the fusion_strategy value or the default.
func (c *EngineConfig) GetFusionStrategy() string {
	if c.FusionStrategy == nil || *c.FusionStrategy == "" {
		return StrategyWeighted
	}
	return *c.FusionStrategy
}

// GetHistorySize returns the history_size value or the default.
func (c *EngineConfig) GetHistorySize() int {
	if c.HistorySize == nil {
		return 20
	}
	return *c.HistorySize
}

// GetSourceTimeout parses and returns the SourceTimeout as a time.Duration.
func (c *EngineConfig) GetSourceTimeout() time.Duration {
	return durationOr(c.SourceTimeout, 2*time.Second)
}

// GetDefaultShoulderWidth returns the fallback shoulder width in cm.
func (c *EngineConfig) GetDefaultShoulderWidth() float64 {
	if c.DefaultShoulderWidth == nil {
		return 42.0
	}
	return *c.DefaultShoulderWidth
}

// GetDefaultHeight returns the fallback height in cm.
func (c *EngineConfig) GetDefaultHeight() float64 {
	if c.DefaultHeight == nil {
		return 170.0
	}
	return *c.DefaultHeight
}

// GetAutoDegrade returns the auto_degrade value or the default.
func (c *EngineConfig) GetAutoDegrade() bool {
	if c.AutoDegrade == nil {
		return false
	}
	return *c.AutoDegrade
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *EngineConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.5
	}
	return *c.ConfidenceThreshold
}

// GetMinHistory returns the min_history value or the default.
func (c *EngineConfig) GetMinHistory() int {
	if c.MinHistory == nil {
		return 5
	}
	return *c.MinHistory
}

// GetStatWindow returns the stat_window value or the default.
func (c *EngineConfig) GetStatWindow() int {
	if c.StatWindow == nil {
		return 10
	}
	return *c.StatWindow
}

// GetZScoreThreshold returns the z_score_threshold value or the default.
func (c *EngineConfig) GetZScoreThreshold() float64 {
	if c.ZScoreThreshold == nil {
		return 2.5
	}
	return *c.ZScoreThreshold
}

// GetZScoreHigh returns the z_score_high value or the default.
func (c *EngineConfig) GetZScoreHigh() float64 {
	if c.ZScoreHigh == nil {
		return 3.0
	}
	return *c.ZScoreHigh
}

// GetTemporalWindow returns the temporal_window value or the default.
func (c *EngineConfig) GetTemporalWindow() int {
	if c.TemporalWindow == nil {
		return 5
	}
	return *c.TemporalWindow
}

// GetTemporalRatio returns the temporal_ratio value or the default.
func (c *EngineConfig) GetTemporalRatio() float64 {
	if c.TemporalRatio == nil {
		return 3.0
	}
	return *c.TemporalRatio
}

// GetMinTemporalChange returns the min_temporal_change value (cm) or the default.
func (c *EngineConfig) GetMinTemporalChange() float64 {
	if c.MinTemporalChange == nil {
		return 0.5
	}
	return *c.MinTemporalChange
}

// GetRatioMin returns the ratio_min value or the default.
func (c *EngineConfig) GetRatioMin() float64 {
	if c.RatioMin == nil {
		return 2.5
	}
	return *c.RatioMin
}

// GetRatioMax returns the ratio_max value or the default.
func (c *EngineConfig) GetRatioMax() float64 {
	if c.RatioMax == nil {
		return 4.0
	}
	return *c.RatioMax
}

// GetRatioTolerance returns the ratio_tolerance value or the default.
func (c *EngineConfig) GetRatioTolerance() float64 {
	if c.RatioTolerance == nil {
		return 0
	}
	return *c.RatioTolerance
}

// GetTrainingCap returns the training_cap value or the default.
func (c *EngineConfig) GetTrainingCap() int {
	if c.TrainingCap == nil {
		return 200
	}
	return *c.TrainingCap
}

// GetValidationLearningRate returns the validation_learning_rate value or the default.
func (c *EngineConfig) GetValidationLearningRate() float64 {
	if c.ValidationLearningRate == nil {
		return 0.05
	}
	return *c.ValidationLearningRate
}

// GetMaxRetries returns the max_retries value or the default.
func (c *EngineConfig) GetMaxRetries() int {
	if c.MaxRetries == nil {
		return 3
	}
	return *c.MaxRetries
}

// GetRetryDelay parses and returns the RetryDelay as a time.Duration.
func (c *EngineConfig) GetRetryDelay() time.Duration {
	return durationOr(c.RetryDelay, 500*time.Millisecond)
}

// GetCalibrationLearningRate returns the calibration_learning_rate value or the default.
func (c *EngineConfig) GetCalibrationLearningRate() float64 {
	if c.CalibrationLearningRate == nil {
		return 0.3
	}
	return *c.CalibrationLearningRate
}

// GetScaleMin returns the scale_min value or the default.
func (c *EngineConfig) GetScaleMin() float64 {
	if c.ScaleMin == nil {
		return 0.7
	}
	return *c.ScaleMin
}

// GetScaleMax returns the scale_max value or the default.
func (c *EngineConfig) GetScaleMax() float64 {
	if c.ScaleMax == nil {
		return 1.3
	}
	return *c.ScaleMax
}

// GetMaxReferences returns the max_references value or the default.
func (c *EngineConfig) GetMaxReferences() int {
	if c.MaxReferences == nil {
		return 20
	}
	return *c.MaxReferences
}

// GetPerfBufferSize returns the perf_buffer_size value or the default.
func (c *EngineConfig) GetPerfBufferSize() int {
	if c.PerfBufferSize == nil {
		return 120
	}
	return *c.PerfBufferSize
}

// GetTrendWindow returns the trend_window value or the default.
func (c *EngineConfig) GetTrendWindow() int {
	if c.TrendWindow == nil {
		return 10
	}
	return *c.TrendWindow
}

// GetMaxFrameTime parses and returns the MaxFrameTime as a time.Duration.
func (c *EngineConfig) GetMaxFrameTime() time.Duration {
	return durationOr(c.MaxFrameTime, 100*time.Millisecond)
}

// GetMaxMemoryMB returns the max_memory_mb value or the default.
func (c *EngineConfig) GetMaxMemoryMB() float64 {
	if c.MaxMemoryMB == nil {
		return 150
	}
	return *c.MaxMemoryMB
}

// GetMinBattery returns the min_battery value or the default.
func (c *EngineConfig) GetMinBattery() float64 {
	if c.MinBattery == nil {
		return 0.2
	}
	return *c.MinBattery
}

// GetBaseProcessingInterval parses and returns the BaseProcessingInterval.
func (c *EngineConfig) GetBaseProcessingInterval() time.Duration {
	return durationOr(c.BaseProcessingInterval, 100*time.Millisecond)
}

// GetDegradedHistorySize returns the degraded_history_size value or the default.
func (c *EngineConfig) GetDegradedHistorySize() int {
	if c.DegradedHistorySize == nil {
		return 10
	}
	return *c.DegradedHistorySize
}

// GetDegradedMaxSources returns the degraded_max_sources value or the default.
// Zero means no cap.
func (c *EngineConfig) GetDegradedMaxSources() int {
	if c.DegradedMaxSources == nil {
		return 2
	}
	return *c.DegradedMaxSources
}

// DefaultEngineConfig returns a config with every field populated from the
// built-in defaults. It mirrors config/engine.defaults.json.
func DefaultEngineConfig() *EngineConfig {
	e := EmptyEngineConfig()
	return &EngineConfig{
		FusionStrategy:          ptrString(e.GetFusionStrategy()),
		HistorySize:             ptrInt(e.GetHistorySize()),
		SourceTimeout:           ptrString(e.GetSourceTimeout().String()),
		DefaultShoulderWidth:    ptrFloat64(e.GetDefaultShoulderWidth()),
		DefaultHeight:           ptrFloat64(e.GetDefaultHeight()),
		AutoDegrade:             ptrBool(e.GetAutoDegrade()),
		ConfidenceThreshold:     ptrFloat64(e.GetConfidenceThreshold()),
		MinHistory:              ptrInt(e.GetMinHistory()),
		StatWindow:              ptrInt(e.GetStatWindow()),
		ZScoreThreshold:         ptrFloat64(e.GetZScoreThreshold()),
		ZScoreHigh:              ptrFloat64(e.GetZScoreHigh()),
		TemporalWindow:          ptrInt(e.GetTemporalWindow()),
		TemporalRatio:           ptrFloat64(e.GetTemporalRatio()),
		MinTemporalChange:       ptrFloat64(e.GetMinTemporalChange()),
		RatioMin:                ptrFloat64(e.GetRatioMin()),
		RatioMax:                ptrFloat64(e.GetRatioMax()),
		RatioTolerance:          ptrFloat64(e.GetRatioTolerance()),
		TrainingCap:             ptrInt(e.GetTrainingCap()),
		ValidationLearningRate:  ptrFloat64(e.GetValidationLearningRate()),
		MaxRetries:              ptrInt(e.GetMaxRetries()),
		RetryDelay:              ptrString(e.GetRetryDelay().String()),
		CalibrationLearningRate: ptrFloat64(e.GetCalibrationLearningRate()),
		ScaleMin:                ptrFloat64(e.GetScaleMin()),
		ScaleMax:                ptrFloat64(e.GetScaleMax()),
		MaxReferences:           ptrInt(e.GetMaxReferences()),
		PerfBufferSize:          ptrInt(e.GetPerfBufferSize()),
		TrendWindow:             ptrInt(e.GetTrendWindow()),
		MaxFrameTime:            ptrString(e.GetMaxFrameTime().String()),
		MaxMemoryMB:             ptrFloat64(e.GetMaxMemoryMB()),
		MinBattery:              ptrFloat64(e.GetMinBattery()),
		BaseProcessingInterval:  ptrString(e.GetBaseProcessingInterval().String()),
		DegradedHistorySize:     ptrInt(e.GetDegradedHistorySize()),
		DegradedMaxSources:      ptrInt(e.GetDegradedMaxSources()),
	}
}
