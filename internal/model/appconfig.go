package model

import (
	"time"

	"github.com/pkg/errors"
)

// Settings holds the engine limits applied to every run.
type Settings struct {
	MaxIterations   int `json:"max_iterations" yaml:"max_iterations"`     // per strategy call: shelves, skyline updates, generations
	RotationSamples int `json:"rotation_samples" yaml:"rotation_samples"` // angles tried for RotationAny pieces
	MaxSheets       int `json:"max_sheets" yaml:"max_sheets"`             // spillover cap when the request sets none
	MaxPieces       int `json:"max_pieces" yaml:"max_pieces"`             // largest quantity-expanded request accepted
}

func DefaultSettings() Settings {
	return Settings{
		MaxIterations:   10000,
		RotationSamples: 8,
		MaxSheets:       20,
		MaxPieces:       5000,
	}
}

// TelemetryConfig controls the run recorder.
type TelemetryConfig struct {
	Dir       string `json:"dir" yaml:"dir"`
	QueueSize int    `json:"queue_size" yaml:"queue_size"`
	Fixtures  bool   `json:"fixtures" yaml:"fixtures"` // keep a first-seen request snapshot per context and width
}

// CompareConfig controls the algorithm comparator.
type CompareConfig struct {
	Workers        int           `json:"workers" yaml:"workers"`
	TimeResolution time.Duration `json:"time_resolution" yaml:"time_resolution"`
	Strategies     []string      `json:"strategies" yaml:"strategies"`
}

// ReportConfig controls regression detection in the reporter.
type ReportConfig struct {
	Window    int     `json:"window" yaml:"window"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// AppConfig holds application-wide preferences and default settings.
type AppConfig struct {
	// Defaults applied to requests that leave them unset
	DefaultMargin   float64   `json:"default_margin" yaml:"default_margin"`
	DefaultStrategy string    `json:"default_strategy" yaml:"default_strategy"`
	SheetPresets    []float64 `json:"sheet_presets" yaml:"sheet_presets"`
	MaxSheetLength  float64   `json:"max_sheet_length" yaml:"max_sheet_length"` // inches, 0 = unbounded
	Pricing         []Pricing `json:"pricing" yaml:"pricing"`

	Engine    Settings        `json:"engine" yaml:"engine"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Compare   CompareConfig   `json:"compare" yaml:"compare"`
	Report    ReportConfig    `json:"report" yaml:"report"`

	// Process
	Listen   string `json:"listen" yaml:"listen"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultAppConfig returns an AppConfig populated with sensible defaults
// matching the values from DefaultSettings().
func DefaultAppConfig() AppConfig {
	return AppConfig{
		DefaultMargin:   DefaultMargin,
		DefaultStrategy: "shelf",
		SheetPresets:    []float64{Preset13, Preset17},
		Pricing:         DefaultPricing(),
		Engine:          DefaultSettings(),
		Telemetry: TelemetryConfig{
			Dir:       "logs",
			QueueSize: 256,
			Fixtures:  true,
		},
		Compare: CompareConfig{
			Workers:        4,
			TimeResolution: time.Millisecond,
			Strategies:     []string{"shelf", "skyline", "maxrects", "genetic"},
		},
		Report: ReportConfig{
			Window:    10,
			Threshold: 0.05,
		},
		Listen:   ":8080",
		LogLevel: "info",
	}
}

// Validate checks the values a loaded config file may have broken.
func (c AppConfig) Validate() error {
	if c.DefaultMargin < 0 {
		return errors.Errorf("default_margin must be >= 0, got %g", c.DefaultMargin)
	}
	if c.DefaultStrategy == "" {
		return errors.New("default_strategy must be set")
	}
	for _, w := range c.SheetPresets {
		if w <= 0 {
			return errors.Errorf("sheet_presets must be positive, got %g", w)
		}
	}
	for _, p := range c.Pricing {
		if p.SheetWidth <= 0 || p.Base < 0 || p.PerSqIn < 0 {
			return errors.Errorf("pricing for %g\" must have a positive width and non-negative rates", p.SheetWidth)
		}
	}
	if c.MaxSheetLength < 0 {
		return errors.Errorf("max_sheet_length must be >= 0, got %g", c.MaxSheetLength)
	}
	if c.Engine.MaxIterations <= 0 {
		return errors.Errorf("engine.max_iterations must be positive, got %d", c.Engine.MaxIterations)
	}
	if c.Engine.MaxSheets <= 0 {
		return errors.Errorf("engine.max_sheets must be positive, got %d", c.Engine.MaxSheets)
	}
	if c.Engine.MaxPieces <= 0 {
		return errors.Errorf("engine.max_pieces must be positive, got %d", c.Engine.MaxPieces)
	}
	if c.Telemetry.QueueSize <= 0 {
		return errors.Errorf("telemetry.queue_size must be positive, got %d", c.Telemetry.QueueSize)
	}
	if c.Compare.Workers <= 0 {
		return errors.Errorf("compare.workers must be positive, got %d", c.Compare.Workers)
	}
	if c.Report.Window <= 0 {
		return errors.Errorf("report.window must be positive, got %d", c.Report.Window)
	}
	if c.Report.Threshold < 0 || c.Report.Threshold > 1 {
		return errors.Errorf("report.threshold must be in [0, 1], got %g", c.Report.Threshold)
	}
	return nil
}

// ApplyToRequest fills the unset fields of req from the config defaults.
func (c AppConfig) ApplyToRequest(req *NestingRequest) {
	if req.Strategy == "" {
		req.Strategy = c.DefaultStrategy
	}
	if req.MaxSheetLength == 0 {
		req.MaxSheetLength = c.MaxSheetLength
	}
	if req.MaxSheets == 0 {
		req.MaxSheets = c.Engine.MaxSheets
	}
}
