package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if len(cfg.Engine.Symbols) != 1 || cfg.Engine.Symbols[0] != "SPX" {
		t.Errorf("unexpected default symbols: %v", cfg.Engine.Symbols)
	}
	if cfg.Engine.FreshnessMaxAge() != 2*time.Second {
		t.Errorf("expected 2s freshness window, got %v", cfg.Engine.FreshnessMaxAge())
	}
	if cfg.Engine.HistoryRetention() != 8*time.Hour {
		t.Errorf("expected 8h retention, got %v", cfg.Engine.HistoryRetention())
	}

	open := cfg.Engine.SessionStartClock()
	if open.Hour != 9 || open.Minute != 30 {
		t.Errorf("expected 09:30 session start, got %+v", open)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
engine:
  symbols: ["SPX", "NDX"]
  neutral_gamma_threshold: 500000000
  spike_roc_threshold: 75
server:
  port: "9090"
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Engine.Symbols) != 2 {
		t.Errorf("expected 2 symbols, got %v", cfg.Engine.Symbols)
	}
	if cfg.Engine.NeutralGammaThreshold != 500000000 {
		t.Errorf("unexpected threshold: %f", cfg.Engine.NeutralGammaThreshold)
	}
	if cfg.Engine.SpikeROCThreshold != 75 {
		t.Errorf("unexpected spike threshold: %f", cfg.Engine.SpikeROCThreshold)
	}
	// Unset keys keep their defaults.
	if cfg.Engine.BuildROCThreshold != 30 {
		t.Errorf("expected default build threshold 30, got %f", cfg.Engine.BuildROCThreshold)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Engine.Symbols = nil }},
		{"zero neutral threshold", func(c *Config) { c.Engine.NeutralGammaThreshold = 0 }},
		{"negative spike threshold", func(c *Config) { c.Engine.SpikeROCThreshold = -1 }},
		{"zero magnets", func(c *Config) { c.Engine.MagnetCount = 0 }},
		{"bad session start", func(c *Config) { c.Engine.SessionStart = "930" }},
		{"db enabled without dsn", func(c *Config) { c.Database.Enabled = true; c.Database.DSN = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
