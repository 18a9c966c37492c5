// cost-forecast predicts the next 30 days of cloud spend from the daily
// cost history in ClickHouse and fans the forecast out to a JSON snapshot,
// the cost_forecasts table, and the Prometheus Pushgateway.
//
// Runs once per invocation; the scheduler provides the daily loop.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"cost-forecast/internal/config"
	"cost-forecast/internal/forecast"
	"cost-forecast/internal/history"
	"cost-forecast/internal/pipeline"
	"cost-forecast/internal/sink"
)

var (
	version = "dev"
	commit  = "none"
)

// Exit codes for the scheduler.
const (
	ExitSuccess          = 0
	ExitFailure          = 1
	ExitInsufficientData = 2
)

func main() {
	app := &cli.App{
		Name:    "cost-forecast",
		Usage:   "Daily cloud cost forecasting job",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to YAML config file",
				EnvVars: []string{"COST_FORECAST_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-host",
				Usage:   "ClickHouse host",
				EnvVars: []string{"CLICKHOUSE_HOST"},
			},
			&cli.IntFlag{
				Name:    "clickhouse-port",
				Usage:   "ClickHouse native port",
				EnvVars: []string{"CLICKHOUSE_PORT"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-database",
				Usage:   "ClickHouse database",
				EnvVars: []string{"CLICKHOUSE_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-user",
				Usage:   "ClickHouse user",
				EnvVars: []string{"CLICKHOUSE_USER"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-password",
				Usage:   "ClickHouse password",
				EnvVars: []string{"CLICKHOUSE_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "pushgateway-url",
				Usage:   "Prometheus Pushgateway address",
				EnvVars: []string{"PUSHGATEWAY_URL"},
			},
			&cli.StringFlag{
				Name:    "output-dir",
				Usage:   "Directory for forecast snapshots",
				EnvVars: []string{"FORECAST_OUTPUT_DIR"},
			},
			&cli.IntFlag{
				Name:    "lookback-days",
				Usage:   "Historical window to fit on",
				EnvVars: []string{"FORECAST_LOOKBACK_DAYS"},
			},
			&cli.IntFlag{
				Name:    "horizon-days",
				Usage:   "Days to forecast ahead",
				EnvVars: []string{"FORECAST_HORIZON_DAYS"},
			},
			&cli.StringFlag{
				Name:    "method",
				Usage:   "Forecast method (auto, arima)",
				EnvVars: []string{"FORECAST_METHOD"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"FORECAST_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Human-readable console logging",
			},
		},

		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
}

func run(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitFailure)
	}

	setupLogging(cfg)

	loader, err := history.NewClickHouseLoader(cfg.ClickHouse, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to ClickHouse")
		return cli.Exit(err.Error(), ExitFailure)
	}
	defer loader.Close()

	forecaster := forecast.New(cfg.Forecast, log.Logger)
	fileSink := sink.NewFileSink(cfg.Output.Dir, log.Logger)
	storeSink := sink.NewClickHouseSink(loader.Conn(), cfg.ClickHouse, log.Logger)
	gatewaySink := sink.NewGatewaySink(cfg.Metrics, log.Logger)

	p := pipeline.New(cfg, loader, forecaster, fileSink, storeSink, gatewaySink, log.Logger)
	if err := p.Run(context.Background()); err != nil {
		code := ExitFailure
		if errors.Is(err, pipeline.ErrInsufficientData) {
			code = ExitInsufficientData
		}
		return cli.Exit(err.Error(), code)
	}
	return nil
}

// buildConfig layers defaults, the optional YAML file, then flags and env.
func buildConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}

	if c.IsSet("clickhouse-host") {
		cfg.ClickHouse.Host = c.String("clickhouse-host")
	}
	if c.IsSet("clickhouse-port") {
		cfg.ClickHouse.Port = c.Int("clickhouse-port")
	}
	if c.IsSet("clickhouse-database") {
		cfg.ClickHouse.Database = c.String("clickhouse-database")
	}
	if c.IsSet("clickhouse-user") {
		cfg.ClickHouse.Username = c.String("clickhouse-user")
	}
	if c.IsSet("clickhouse-password") {
		cfg.ClickHouse.Password = c.String("clickhouse-password")
	}
	if c.IsSet("pushgateway-url") {
		cfg.Metrics.PushgatewayURL = c.String("pushgateway-url")
	}
	if c.IsSet("output-dir") {
		cfg.Output.Dir = c.String("output-dir")
	}
	if c.IsSet("lookback-days") {
		cfg.Forecast.LookbackDays = c.Int("lookback-days")
	}
	if c.IsSet("horizon-days") {
		cfg.Forecast.HorizonDays = c.Int("horizon-days")
	}
	if c.IsSet("method") {
		cfg.Forecast.Method = c.String("method")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("pretty") {
		cfg.Logging.Pretty = c.Bool("pretty")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
