// Package sink persists one run's forecast to its three destinations: a
// JSON snapshot on disk, the ClickHouse forecast table, and the Prometheus
// Pushgateway. All three consume the same Snapshot.
package sink

import (
	"time"

	"github.com/google/uuid"

	"cost-forecast/internal/forecast"
)

// Snapshot is the immutable output of a single pipeline run.
type Snapshot struct {
	RunID       uuid.UUID
	RunDate     time.Time // calendar day the forecast was produced
	GeneratedAt time.Time
	Cutoff      time.Time // last historical observation date
	Result      forecast.Result
}

// Future returns the true forecast: the points past the historical window,
// exactly the horizon when the cutoff is the last observation.
func (s Snapshot) Future() []forecast.Point {
	return s.Result.Future(s.Cutoff)
}

// FutureTotal sums predicted cost over the first n future days; n <= 0
// sums the whole horizon.
func (s Snapshot) FutureTotal(n int) float64 {
	var total float64
	for i, p := range s.Future() {
		if n > 0 && i >= n {
			break
		}
		total += p.Predicted
	}
	return total
}
