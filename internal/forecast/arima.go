package forecast

import (
	"fmt"
	"math"
	"time"

	"cost-forecast/internal/series"
)

// Fallback uncertainty band: ±10% of the point estimate. This is a fixed
// heuristic, not a statistical interval; dashboards depend on it staying
// exactly this.
const arimaBand = 0.10

// ARIMA is the fallback model, an ARIMA(1,1,1) fit by conditional least
// squares over a coefficient grid on the differenced series.
type ARIMA struct {
	band float64
}

// NewARIMA returns the production fallback model.
func NewARIMA() *ARIMA {
	return &ARIMA{band: arimaBand}
}

// Name identifies the method on results and stored rows.
func (m *ARIMA) Name() string { return "arima" }

// Fit estimates AR and MA coefficients on the first-differenced series and
// projects horizon days past the last observation.
func (m *ARIMA) Fit(s series.Series, horizon int) ([]Point, error) {
	n := len(s)
	if n < 3 {
		return nil, fmt.Errorf("need at least 3 observations, got %d", n)
	}

	y := s.Values()
	w := make([]float64, n-1)
	for i := 1; i < n; i++ {
		w[i-1] = y[i] - y[i-1]
	}

	phi, theta := estimateARMA11(w)
	resid := arma11Residuals(w, phi, theta)

	points := make([]Point, 0, n+horizon)

	// Fitted historical values: one-step-ahead predictions on the level
	// scale. The first observation has no prior step, so its fit is the
	// observation itself.
	points = append(points, m.point(s[0].Date, y[0]))
	for t := 1; t < n; t++ {
		var dhat float64
		if t >= 2 {
			dhat = phi*w[t-2] + theta*resid[t-2]
		}
		points = append(points, m.point(s[t].Date, y[t-1]+dhat))
	}

	// Future horizon: recurse on the differenced process with future
	// innovations at zero.
	last := s[n-1].Date
	level := y[n-1]
	prevW := w[len(w)-1]
	prevE := resid[len(resid)-1]
	for h := 1; h <= horizon; h++ {
		dhat := phi*prevW + theta*prevE
		level += dhat
		points = append(points, m.point(last.AddDate(0, 0, h), level))
		prevW = dhat
		prevE = 0
	}

	return points, nil
}

// point applies the ±10% band around a prediction.
func (m *ARIMA) point(date time.Time, v float64) Point {
	delta := math.Abs(v) * m.band
	return Point{Date: date, Predicted: v, Lower: v - delta, Upper: v + delta}
}

// estimateARMA11 grid-searches the ARMA(1,1) coefficients minimizing the
// conditional sum of squares. Deterministic and cheap at this data size.
func estimateARMA11(w []float64) (phi, theta float64) {
	bestSSE := math.Inf(1)
	for p := -0.9; p <= 0.9+1e-9; p += 0.05 {
		for q := -0.9; q <= 0.9+1e-9; q += 0.05 {
			sse := 0.0
			e := 0.0
			for t, wt := range w {
				var pred float64
				if t > 0 {
					pred = p*w[t-1] + q*e
				}
				e = wt - pred
				sse += e * e
			}
			if sse < bestSSE {
				bestSSE = sse
				phi, theta = p, q
			}
		}
	}
	return phi, theta
}

// arma11Residuals replays the one-step innovations for the chosen
// coefficients.
func arma11Residuals(w []float64, phi, theta float64) []float64 {
	resid := make([]float64, len(w))
	for t, wt := range w {
		var pred float64
		if t > 0 {
			pred = phi*w[t-1] + theta*resid[t-1]
		}
		resid[t] = wt - pred
	}
	return resid
}
