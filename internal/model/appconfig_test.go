package model

import "testing"

func TestDefaultAppConfigMatchesDefaultSettings(t *testing.T) {
	cfg := DefaultAppConfig()
	defaults := DefaultSettings()

	if cfg.Engine != defaults {
		t.Errorf("engine settings mismatch: config=%+v settings=%+v", cfg.Engine, defaults)
	}
	if cfg.DefaultMargin != DefaultMargin {
		t.Errorf("expected default margin %f, got %f", DefaultMargin, cfg.DefaultMargin)
	}
	if len(cfg.SheetPresets) != 2 || cfg.SheetPresets[0] != Preset13 || cfg.SheetPresets[1] != Preset17 {
		t.Errorf("expected 13/17 presets, got %v", cfg.SheetPresets)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"negative margin", func(c *AppConfig) { c.DefaultMargin = -1 }},
		{"empty strategy", func(c *AppConfig) { c.DefaultStrategy = "" }},
		{"zero preset", func(c *AppConfig) { c.SheetPresets = []float64{0} }},
		{"zero iterations", func(c *AppConfig) { c.Engine.MaxIterations = 0 }},
		{"zero sheets", func(c *AppConfig) { c.Engine.MaxSheets = 0 }},
		{"zero max pieces", func(c *AppConfig) { c.Engine.MaxPieces = 0 }},
		{"zero queue", func(c *AppConfig) { c.Telemetry.QueueSize = 0 }},
		{"zero workers", func(c *AppConfig) { c.Compare.Workers = 0 }},
		{"threshold above one", func(c *AppConfig) { c.Report.Threshold = 2 }},
		{"negative price", func(c *AppConfig) { c.Pricing[0].PerSqIn = -0.5 }},
		{"unsized price", func(c *AppConfig) { c.Pricing = append(c.Pricing, Pricing{Base: 10}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAppConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyToRequest(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.DefaultStrategy = "skyline"
	cfg.MaxSheetLength = 120

	req := NestingRequest{SheetWidth: Preset13}
	cfg.ApplyToRequest(&req)

	if req.Strategy != "skyline" {
		t.Errorf("expected strategy=skyline, got %s", req.Strategy)
	}
	if req.MaxSheetLength != 120 {
		t.Errorf("expected MaxSheetLength=120, got %f", req.MaxSheetLength)
	}
	if req.MaxSheets != cfg.Engine.MaxSheets {
		t.Errorf("expected MaxSheets=%d, got %d", cfg.Engine.MaxSheets, req.MaxSheets)
	}

	req = NestingRequest{Strategy: "shelf", MaxSheets: 2}
	cfg.ApplyToRequest(&req)
	if req.Strategy != "shelf" || req.MaxSheets != 2 {
		t.Errorf("explicit values should win, got %+v", req)
	}
}
