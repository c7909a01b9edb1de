package quality

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/taskmesh/taskmesh/internal/oracle"
	"github.com/taskmesh/taskmesh/pkg/models"
)

// FileConfig is the on-disk tuning for the quality controller.
type FileConfig struct {
	// Thresholds are the initial acceptance bands.
	Thresholds models.QualityThresholds `yaml:"thresholds"`
	// Dimensions overrides the scoring dimension set.
	Dimensions []string `yaml:"dimensions"`
	// AdaptationRate scales threshold adaptation per update.
	AdaptationRate float64 `yaml:"adaptation_rate"`
	// MinSamples is how many scores adaptation requires.
	MinSamples int `yaml:"min_samples"`
	// HistoryLimit caps the feedback history.
	HistoryLimit int `yaml:"history_limit"`
	// TrendWindow is the trend analysis window.
	TrendWindow int `yaml:"trend_window"`
}

// DefaultFileConfig returns the built-in tuning.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Thresholds:     models.DefaultThresholds(),
		Dimensions:     append([]string{}, DefaultDimensions...),
		AdaptationRate: DefaultAdaptationRate,
		MinSamples:     DefaultMinSamples,
		HistoryLimit:   DefaultHistoryLimit,
		TrendWindow:    DefaultTrendWindow,
	}
}

// LoadConfig reads and validates a quality config file. Missing fields
// fall back to defaults.
func LoadConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read quality config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse quality config: %w", err)
	}

	if !cfg.Thresholds.Valid() {
		return cfg, fmt.Errorf("quality config: thresholds must be strictly increasing with minimum >= %.2f", models.MinimumFloor)
	}
	if cfg.AdaptationRate <= 0 || cfg.AdaptationRate > 1 {
		return cfg, fmt.Errorf("quality config: adaptation_rate must be in (0,1], got %v", cfg.AdaptationRate)
	}
	return cfg, nil
}

// ApplyConfig retunes a live controller from a file config, e.g. on a
// watched-file reload. Unset or invalid fields keep their current
// values; the feedback processor is rebuilt with the config's
// adaptation tuning. Accumulated scores and history are preserved.
func (c *Controller) ApplyConfig(cfg FileConfig) {
	processor := NewFeedbackProcessor(
		WithAdaptationRate(cfg.AdaptationRate),
		WithMinSamples(cfg.MinSamples),
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Thresholds.Valid() {
		c.thresholds = cfg.Thresholds
	}
	if len(cfg.Dimensions) > 0 {
		c.dimensions = append([]string{}, cfg.Dimensions...)
	}
	if cfg.HistoryLimit > 0 {
		c.historyLimit = cfg.HistoryLimit
	}
	if cfg.TrendWindow >= 2 {
		c.trendWindow = cfg.TrendWindow
	}
	c.processor = processor
}

// NewControllerFromConfig builds a Controller tuned by a file config.
func NewControllerFromConfig(o oracle.Oracle, cfg FileConfig) *Controller {
	processor := NewFeedbackProcessor(
		WithAdaptationRate(cfg.AdaptationRate),
		WithMinSamples(cfg.MinSamples),
	)
	return NewController(o,
		WithThresholds(cfg.Thresholds),
		WithDimensions(cfg.Dimensions),
		WithProcessor(processor),
		WithHistoryLimit(cfg.HistoryLimit),
		WithTrendWindow(cfg.TrendWindow),
	)
}
