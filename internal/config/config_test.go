package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forecast.yaml")
	content := []byte(`
clickhouse:
  host: ch.internal
  database: observability
forecast:
  lookback_days: 120
  method: arima
metrics:
  pushgateway_url: gateway:9091
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ClickHouse.Host != "ch.internal" {
		t.Errorf("host = %q, want ch.internal", cfg.ClickHouse.Host)
	}
	if cfg.ClickHouse.Database != "observability" {
		t.Errorf("database = %q, want observability", cfg.ClickHouse.Database)
	}
	// Untouched keys keep their defaults.
	if cfg.ClickHouse.Port != 9000 {
		t.Errorf("port = %d, want default 9000", cfg.ClickHouse.Port)
	}
	if cfg.Forecast.LookbackDays != 120 {
		t.Errorf("lookback_days = %d, want 120", cfg.Forecast.LookbackDays)
	}
	if cfg.Forecast.HorizonDays != 30 {
		t.Errorf("horizon_days = %d, want default 30", cfg.Forecast.HorizonDays)
	}
	if cfg.Forecast.Method != "arima" {
		t.Errorf("method = %q, want arima", cfg.Forecast.Method)
	}
	if cfg.Metrics.PushgatewayURL != "gateway:9091" {
		t.Errorf("pushgateway_url = %q", cfg.Metrics.PushgatewayURL)
	}
	if cfg.Metrics.Job != "cost_forecast" {
		t.Errorf("job = %q, want default cost_forecast", cfg.Metrics.Job)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config does not validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero lookback", func(c *Config) { c.Forecast.LookbackDays = 0 }},
		{"zero horizon", func(c *Config) { c.Forecast.HorizonDays = 0 }},
		{"zero min samples", func(c *Config) { c.Forecast.MinSamples = 0 }},
		{"min samples above lookback", func(c *Config) { c.Forecast.MinSamples = 91 }},
		{"unknown method", func(c *Config) { c.Forecast.Method = "prophet" }},
		{"empty output dir", func(c *Config) { c.Output.Dir = "" }},
		{"empty job", func(c *Config) { c.Metrics.Job = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
