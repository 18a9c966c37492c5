// Package forecast fits a model to the historical cost series and projects
// it forward with uncertainty bounds. The primary seasonal model is tried
// first; when it is absent the ARIMA fallback takes over, and the result
// carries the method that actually produced it.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"cost-forecast/internal/config"
	"cost-forecast/internal/series"
)

var (
	// ErrUnavailable marks a model that cannot run in this environment.
	// The forecaster recovers from it by falling back; it is not a data
	// problem.
	ErrUnavailable = errors.New("forecast model unavailable")

	// ErrFitFailed marks a run where no model produced a forecast. Fatal.
	ErrFitFailed = errors.New("forecast model fit failed")
)

// Point is a single dated prediction with its uncertainty band.
// Lower <= Predicted <= Upper always holds.
type Point struct {
	Date      time.Time
	Predicted float64
	Lower     float64
	Upper     float64
}

// Metrics describes how well the selected model fit the historical window.
type Metrics struct {
	Method          string  `json:"method"`
	MAPE            float64 `json:"mape"`
	RMSE            float64 `json:"rmse"`
	TrainingSamples int     `json:"training_samples"`
	HorizonDays     int     `json:"forecast_days"`
}

// Result is the fitted historical points plus the future horizon, with the
// accuracy metrics of the selected model.
type Result struct {
	Points  []Point
	Metrics Metrics
}

// Future returns the points strictly after the cutoff date. With the cutoff
// at the last historical observation this is exactly the horizon.
func (r Result) Future(after time.Time) []Point {
	var future []Point
	for _, p := range r.Points {
		if p.Date.After(after) {
			future = append(future, p)
		}
	}
	return future
}

// Model fits a series and produces fitted historical points plus horizon
// future points, in date order.
type Model interface {
	Name() string
	Fit(s series.Series, horizon int) ([]Point, error)
}

// Forecaster selects between the primary model and the fallback.
type Forecaster struct {
	primary  Model
	fallback Model
	log      zerolog.Logger
}

// New wires the production models for the configured method. "auto" runs
// the seasonal model with the ARIMA fallback; "arima" forces the fallback.
func New(cfg config.ForecastConfig, log zerolog.Logger) *Forecaster {
	var primary Model
	if cfg.Method == "auto" {
		primary = NewSeasonal()
	}
	return &Forecaster{
		primary:  primary,
		fallback: NewARIMA(),
		log:      log,
	}
}

// NewWithModels builds a forecaster from explicit models. Either model may
// be nil; tests use this to simulate an unavailable primary.
func NewWithModels(primary, fallback Model, log zerolog.Logger) *Forecaster {
	return &Forecaster{primary: primary, fallback: fallback, log: log}
}

// Forecast fits the series and returns the tagged result. A primary that
// reports ErrUnavailable triggers the fallback; any other fit error is
// fatal, matching the top-level error contract of the pipeline.
func (f *Forecaster) Forecast(s series.Series, horizon int) (Result, error) {
	points, method, err := f.fit(s, horizon)
	if err != nil {
		return Result{}, err
	}

	mape, rmse := accuracy(s, points)
	f.log.Info().
		Str("method", method).
		Float64("mape", mape).
		Float64("rmse", rmse).
		Int("training_samples", len(s)).
		Msg("Model trained")

	return Result{
		Points: points,
		Metrics: Metrics{
			Method:          method,
			MAPE:            mape,
			RMSE:            rmse,
			TrainingSamples: len(s),
			HorizonDays:     horizon,
		},
	}, nil
}

func (f *Forecaster) fit(s series.Series, horizon int) ([]Point, string, error) {
	if f.primary != nil {
		points, err := f.primary.Fit(s, horizon)
		if err == nil {
			return points, f.primary.Name(), nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrFitFailed, f.primary.Name(), err)
		}
		f.log.Warn().
			Str("model", f.primary.Name()).
			Err(err).
			Msg("Primary model unavailable, falling back")
	}

	if f.fallback == nil {
		return nil, "", fmt.Errorf("%w: no usable model", ErrFitFailed)
	}
	points, err := f.fallback.Fit(s, horizon)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrFitFailed, f.fallback.Name(), err)
	}
	return points, f.fallback.Name(), nil
}

// accuracy compares fitted predictions to actuals over the historical
// window. Days with a zero actual are excluded from MAPE (the ratio is
// undefined there) but still count toward RMSE.
func accuracy(s series.Series, points []Point) (mape, rmse float64) {
	predicted := make(map[time.Time]float64, len(points))
	for _, p := range points {
		predicted[p.Date] = p.Predicted
	}

	var (
		absPctSum float64
		pctCount  int
		sqSum     float64
		sqCount   int
	)
	for _, obs := range s {
		pred, ok := predicted[obs.Date]
		if !ok {
			continue
		}
		diff := obs.CostUSD - pred
		sqSum += diff * diff
		sqCount++
		if obs.CostUSD != 0 {
			absPctSum += math.Abs(diff / obs.CostUSD)
			pctCount++
		}
	}

	if pctCount > 0 {
		mape = absPctSum / float64(pctCount) * 100
	}
	if sqCount > 0 {
		rmse = math.Sqrt(sqSum / float64(sqCount))
	}
	return mape, rmse
}
