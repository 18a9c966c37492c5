// Package config carries the runtime configuration for the forecasting job.
// Defaults match the production deployment; an optional YAML file and CLI
// flags layer on top so tests can inject fakes for every external system.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full job configuration.
type Config struct {
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Forecast   ForecastConfig   `yaml:"forecast"`
	Output     OutputConfig     `yaml:"output"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ClickHouseConfig holds connection settings for the cost store.
type ClickHouseConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Database      string `yaml:"database"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	CostsTable    string `yaml:"costs_table"`
	ForecastTable string `yaml:"forecast_table"`
}

// Addr returns the native-protocol address.
func (c ClickHouseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ForecastConfig holds model windows and the method selection.
// Method is "auto" (seasonal with ARIMA fallback) or "arima" (fallback only).
type ForecastConfig struct {
	LookbackDays      int     `yaml:"lookback_days"`
	HorizonDays       int     `yaml:"horizon_days"`
	MinSamples        int     `yaml:"min_samples"`
	MAPETargetPercent float64 `yaml:"mape_target_percent"`
	Method            string  `yaml:"method"`
}

// OutputConfig holds the forecast snapshot destination.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// MetricsConfig holds the Pushgateway destination.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// LoggingConfig holds log verbosity settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the production configuration.
func Default() Config {
	return Config{
		ClickHouse: ClickHouseConfig{
			Host:          "clickhouse",
			Port:          9000,
			Database:      "finops",
			Username:      "default",
			Password:      "",
			CostsTable:    "aws_costs",
			ForecastTable: "cost_forecasts",
		},
		Forecast: ForecastConfig{
			LookbackDays:      90,
			HorizonDays:       30,
			MinSamples:        30,
			MAPETargetPercent: 10.0,
			Method:            "auto",
		},
		Output: OutputConfig{
			Dir: "/data/finops/forecasts",
		},
		Metrics: MetricsConfig{
			PushgatewayURL: "pushgateway:9091",
			Job:            "cost_forecast",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Forecast.LookbackDays <= 0 {
		return fmt.Errorf("lookback_days must be positive, got %d", c.Forecast.LookbackDays)
	}
	if c.Forecast.HorizonDays <= 0 {
		return fmt.Errorf("horizon_days must be positive, got %d", c.Forecast.HorizonDays)
	}
	if c.Forecast.MinSamples <= 0 {
		return fmt.Errorf("min_samples must be positive, got %d", c.Forecast.MinSamples)
	}
	if c.Forecast.MinSamples > c.Forecast.LookbackDays {
		return fmt.Errorf("min_samples %d exceeds lookback_days %d", c.Forecast.MinSamples, c.Forecast.LookbackDays)
	}
	switch c.Forecast.Method {
	case "auto", "arima":
	default:
		return fmt.Errorf("forecast method must be auto or arima, got %q", c.Forecast.Method)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output dir must not be empty")
	}
	if c.Metrics.Job == "" {
		return fmt.Errorf("metrics job must not be empty")
	}
	return nil
}
