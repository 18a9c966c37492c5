// Package series holds the historical daily cost series consumed by the
// forecasting models. A series is read-only once loaded: each run builds a
// fresh one from the cost store and nothing mutates it afterwards.
package series

import (
	"fmt"
	"time"
)

// Observation is one calendar day of aggregated cost across all sources.
type Observation struct {
	Date    time.Time `json:"date"`
	CostUSD float64   `json:"cost_usd"`
}

// Series is an ordered sequence of daily observations, ascending by date
// with no duplicate days.
type Series []Observation

// Last returns the most recent observation, or false for an empty series.
func (s Series) Last() (Observation, bool) {
	if len(s) == 0 {
		return Observation{}, false
	}
	return s[len(s)-1], true
}

// Values returns the cost values in date order.
func (s Series) Values() []float64 {
	vals := make([]float64, len(s))
	for i, obs := range s {
		vals[i] = obs.CostUSD
	}
	return vals
}

// Total returns the summed cost over the whole series.
func (s Series) Total() float64 {
	var total float64
	for _, obs := range s {
		total += obs.CostUSD
	}
	return total
}

// Mean returns the average daily cost, or zero for an empty series.
func (s Series) Mean() float64 {
	if len(s) == 0 {
		return 0
	}
	return s.Total() / float64(len(s))
}

// SpanDays returns the number of calendar days covered, endpoints inclusive.
func (s Series) SpanDays() int {
	if len(s) == 0 {
		return 0
	}
	return int(s[len(s)-1].Date.Sub(s[0].Date).Hours()/24) + 1
}

// Validate checks the ordering invariants: dates strictly ascending (which
// also rules out duplicates) and costs non-negative.
func (s Series) Validate() error {
	for i, obs := range s {
		if obs.CostUSD < 0 {
			return fmt.Errorf("negative cost %.4f on %s", obs.CostUSD, obs.Date.Format("2006-01-02"))
		}
		if i == 0 {
			continue
		}
		if !s[i-1].Date.Before(obs.Date) {
			return fmt.Errorf("dates not strictly ascending at %s", obs.Date.Format("2006-01-02"))
		}
	}
	return nil
}

// Day normalizes a timestamp to a UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
