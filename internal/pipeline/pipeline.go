// Package pipeline sequences the daily forecasting run: load history,
// fit, validate accuracy, persist to the three sinks. The flow is a linear
// state machine with a single Failed terminal state; the first fatal error
// ends the run and becomes the process exit status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cost-forecast/internal/config"
	"cost-forecast/internal/forecast"
	"cost-forecast/internal/history"
	"cost-forecast/internal/series"
	"cost-forecast/internal/sink"
)

// ErrInsufficientData marks a historical window below the minimum sample
// count. No model fit is attempted.
var ErrInsufficientData = errors.New("insufficient historical data")

// State is a stage of the run.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateForecasting
	StateValidating
	StatePersisting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateForecasting:
		return "forecasting"
	case StateValidating:
		return "validating"
	case StatePersisting:
		return "persisting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FileWriter persists the JSON snapshot. Fatal on failure.
type FileWriter interface {
	Write(ctx context.Context, snap sink.Snapshot) (string, error)
}

// StoreWriter persists the forecast rows. Fatal on failure. Later writes
// for the same (run date, prediction date) replace earlier ones.
type StoreWriter interface {
	EnsureTable(ctx context.Context) error
	Write(ctx context.Context, snap sink.Snapshot) error
}

// MetricsPusher publishes the alerting gauges. Non-fatal on failure.
type MetricsPusher interface {
	Push(ctx context.Context, snap sink.Snapshot) error
}

// Pipeline owns one run's collaborators. Nothing persists between runs
// except what the sinks wrote.
type Pipeline struct {
	cfg        config.Config
	loader     history.Loader
	forecaster *forecast.Forecaster
	file       FileWriter
	store      StoreWriter
	metrics    MetricsPusher
	log        zerolog.Logger

	state State
	now   func() time.Time
}

// New assembles a pipeline from its collaborators.
func New(cfg config.Config, loader history.Loader, forecaster *forecast.Forecaster, file FileWriter, store StoreWriter, metrics MetricsPusher, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		loader:     loader,
		forecaster: forecaster,
		file:       file,
		store:      store,
		metrics:    metrics,
		log:        log,
		state:      StateIdle,
		now:        time.Now,
	}
}

// WithClock fixes the run clock; tests pin the run date with it.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// State returns the current stage.
func (p *Pipeline) State() State {
	return p.state
}

// Run executes the full pipeline once and returns the first fatal error.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := uuid.New()
	log := p.log.With().Str("run_id", runID.String()).Logger()
	log.Info().Msg("Cost forecasting starting")

	p.transition(StateLoading, log)
	s, err := p.loader.Load(ctx, p.cfg.Forecast.LookbackDays)
	if err != nil {
		return p.fail(log, fmt.Errorf("loading history: %w", err))
	}

	// Minimum-sample guard; a window this small never reaches a model.
	if len(s) < p.cfg.Forecast.MinSamples {
		return p.fail(log, fmt.Errorf("%w: %d days (minimum %d required)",
			ErrInsufficientData, len(s), p.cfg.Forecast.MinSamples))
	}

	p.transition(StateForecasting, log)
	result, err := p.forecaster.Forecast(s, p.cfg.Forecast.HorizonDays)
	if err != nil {
		return p.fail(log, fmt.Errorf("forecasting: %w", err))
	}

	p.transition(StateValidating, log)
	if result.Metrics.MAPE > p.cfg.Forecast.MAPETargetPercent {
		log.Warn().
			Float64("mape", result.Metrics.MAPE).
			Float64("target", p.cfg.Forecast.MAPETargetPercent).
			Msg("MAPE exceeds target, model may need tuning")
	} else {
		log.Info().
			Float64("mape", result.Metrics.MAPE).
			Float64("target", p.cfg.Forecast.MAPETargetPercent).
			Msg("MAPE meets target")
	}

	p.transition(StatePersisting, log)
	if err := os.MkdirAll(p.cfg.Output.Dir, 0o755); err != nil {
		return p.fail(log, fmt.Errorf("creating output directory: %w", err))
	}

	last, _ := s.Last()
	snap := sink.Snapshot{
		RunID:       runID,
		RunDate:     series.Day(p.now()),
		GeneratedAt: p.now().UTC(),
		Cutoff:      last.Date,
		Result:      result,
	}

	path, err := p.file.Write(ctx, snap)
	if err != nil {
		return p.fail(log, fmt.Errorf("file sink: %w", err))
	}

	if err := p.store.EnsureTable(ctx); err != nil {
		return p.fail(log, fmt.Errorf("store sink: %w", err))
	}
	if err := p.store.Write(ctx, snap); err != nil {
		return p.fail(log, fmt.Errorf("store sink: %w", err))
	}

	// Alerting being down must not fail the run.
	if err := p.metrics.Push(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("Metrics push failed, continuing")
	}

	p.transition(StateDone, log)
	future := snap.Future()
	avgDaily := 0.0
	if len(future) > 0 {
		avgDaily = snap.FutureTotal(0) / float64(len(future))
	}
	log.Info().
		Str("method", result.Metrics.Method).
		Float64("mape", result.Metrics.MAPE).
		Float64("rmse", result.Metrics.RMSE).
		Int("training_samples", result.Metrics.TrainingSamples).
		Int("horizon_days", result.Metrics.HorizonDays).
		Float64("total_30d_usd", snap.FutureTotal(0)).
		Float64("avg_daily_usd", avgDaily).
		Str("output_file", path).
		Msg("Cost forecasting complete")

	return nil
}

func (p *Pipeline) transition(next State, log zerolog.Logger) {
	log.Debug().Str("from", p.state.String()).Str("to", next.String()).Msg("Pipeline transition")
	p.state = next
}

func (p *Pipeline) fail(log zerolog.Logger, err error) error {
	p.state = StateFailed
	log.Error().Err(err).Msg("Forecasting failed")
	return err
}
