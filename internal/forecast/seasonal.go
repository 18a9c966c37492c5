package forecast

import (
	"fmt"
	"math"
	"time"

	"cost-forecast/internal/series"
)

const (
	// z score for the 95% uncertainty interval.
	seasonalInterval = 1.96

	// Ridge penalty on the non-intercept coefficients. Bounds how far the
	// trend and seasonal terms can flex on short windows.
	seasonalDamping = 1.0

	// Fourier order for the yearly component.
	yearlyOrder = 3

	// Yearly terms only activate once the window spans a full year;
	// below that they are indistinguishable from trend.
	yearlyMinSpanDays = 365
)

// Seasonal is the primary model: an additive regression of daily cost on a
// damped linear trend, day-of-week terms, and yearly Fourier terms. Daily
// seasonality does not apply to daily aggregates. The 95% band comes from
// the residual standard error.
type Seasonal struct {
	interval float64
	damping  float64
}

// NewSeasonal returns the production seasonal model.
func NewSeasonal() *Seasonal {
	return &Seasonal{interval: seasonalInterval, damping: seasonalDamping}
}

// Name identifies the method on results and stored rows.
func (m *Seasonal) Name() string { return "seasonal" }

// Fit regresses the series and produces fitted values for every historical
// date plus horizon future days.
func (m *Seasonal) Fit(s series.Series, horizon int) ([]Point, error) {
	n := len(s)
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 observations, got %d", n)
	}

	start := s[0].Date
	span := s[n-1].Date.Sub(start).Hours() / 24
	if span <= 0 {
		span = 1
	}
	useYearly := s.SpanDays() >= yearlyMinSpanDays

	features := func(date time.Time) []float64 {
		row := []float64{1, date.Sub(start).Hours() / 24 / span}
		// Monday..Saturday dummies, Sunday is the baseline.
		wd := int(date.Weekday())
		for d := 1; d <= 6; d++ {
			if wd == d {
				row = append(row, 1)
			} else {
				row = append(row, 0)
			}
		}
		if useYearly {
			yearPos := 2 * math.Pi * float64(date.YearDay()) / 365.25
			for k := 1; k <= yearlyOrder; k++ {
				row = append(row, math.Sin(float64(k)*yearPos), math.Cos(float64(k)*yearPos))
			}
		}
		return row
	}

	x := make([][]float64, n)
	y := make([]float64, n)
	for i, obs := range s {
		x[i] = features(obs.Date)
		y[i] = obs.CostUSD
	}

	beta, err := ridgeSolve(x, y, m.damping)
	if err != nil {
		return nil, err
	}

	predict := func(date time.Time) float64 {
		row := features(date)
		var v float64
		for j, b := range beta {
			v += row[j] * b
		}
		return v
	}

	// Residual standard error over the training window.
	var sse float64
	for _, obs := range s {
		r := obs.CostUSD - predict(obs.Date)
		sse += r * r
	}
	dof := n - len(beta)
	if dof < 1 {
		dof = 1
	}
	sigma := math.Sqrt(sse / float64(dof))
	band := m.interval * sigma

	points := make([]Point, 0, n+horizon)
	for _, obs := range s {
		v := predict(obs.Date)
		points = append(points, Point{Date: obs.Date, Predicted: v, Lower: v - band, Upper: v + band})
	}
	last := s[n-1].Date
	for h := 1; h <= horizon; h++ {
		date := last.AddDate(0, 0, h)
		v := predict(date)
		points = append(points, Point{Date: date, Predicted: v, Lower: v - band, Upper: v + band})
	}
	return points, nil
}

// ridgeSolve solves (X'X + damping*R) beta = X'y with the intercept left
// unpenalized, via Gaussian elimination with partial pivoting. The design
// here is at most 14 columns, so a dense solve is plenty.
func ridgeSolve(x [][]float64, y []float64, damping float64) ([]float64, error) {
	p := len(x[0])

	a := make([][]float64, p)
	b := make([]float64, p)
	for i := 0; i < p; i++ {
		a[i] = make([]float64, p)
	}
	for _, row := range x {
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				a[i][j] += row[i] * row[j]
			}
		}
	}
	for i, row := range x {
		for j := 0; j < p; j++ {
			b[j] += row[j] * y[i]
		}
	}
	for i := 1; i < p; i++ {
		a[i][i] += damping
	}

	// Forward elimination.
	for col := 0; col < p; col++ {
		pivot := col
		for r := col + 1; r < p; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular design matrix at column %d", col)
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < p; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c < p; c++ {
				a[r][c] -= factor * a[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	// Back substitution.
	beta := make([]float64, p)
	for i := p - 1; i >= 0; i-- {
		sum := b[i]
		for j := i + 1; j < p; j++ {
			sum -= a[i][j] * beta[j]
		}
		beta[i] = sum / a[i][i]
	}
	return beta, nil
}
