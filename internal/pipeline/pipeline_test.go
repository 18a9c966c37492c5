package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cost-forecast/internal/config"
	"cost-forecast/internal/forecast"
	"cost-forecast/internal/history"
	"cost-forecast/internal/series"
	"cost-forecast/internal/sink"
)

var testClock = func() time.Time {
	return time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC)
}

type fakeLoader struct {
	s   series.Series
	err error
}

func (l *fakeLoader) Load(context.Context, int) (series.Series, error) {
	return l.s, l.err
}

type fakeFile struct {
	wrote int
	err   error
}

func (f *fakeFile) Write(_ context.Context, snap sink.Snapshot) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.wrote++
	return "/tmp/fake.json", nil
}

type storedRow struct {
	predicted, lower, upper float64
	method                  string
	ingestion               int
}

// fakeStore mimics the ReplacingMergeTree contract: one row per
// (forecast_date, prediction_date), latest ingestion wins.
type fakeStore struct {
	rows      map[string]storedRow
	ingestion int
	ensureErr error
	writeErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]storedRow{}}
}

func (s *fakeStore) EnsureTable(context.Context) error { return s.ensureErr }

func (s *fakeStore) Write(_ context.Context, snap sink.Snapshot) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.ingestion++
	for _, p := range snap.Future() {
		key := fmt.Sprintf("%s|%s", snap.RunDate.Format("2006-01-02"), p.Date.Format("2006-01-02"))
		s.rows[key] = storedRow{
			predicted: p.Predicted,
			lower:     p.Lower,
			upper:     p.Upper,
			method:    snap.Result.Metrics.Method,
			ingestion: s.ingestion,
		}
	}
	return nil
}

type fakePusher struct {
	pushed int
	err    error
}

func (p *fakePusher) Push(context.Context, sink.Snapshot) error {
	if p.err != nil {
		return p.err
	}
	p.pushed++
	return nil
}

func flatSeries(days int, cost float64) series.Series {
	start := time.Date(2026, 5, 25, 0, 0, 0, 0, time.UTC)
	s := make(series.Series, days)
	for i := range s {
		s[i] = series.Observation{Date: start.AddDate(0, 0, i), CostUSD: cost}
	}
	return s
}

type unavailableModel struct{}

func (unavailableModel) Name() string { return "seasonal" }
func (unavailableModel) Fit(series.Series, int) ([]forecast.Point, error) {
	return nil, forecast.ErrUnavailable
}

func testPipeline(t *testing.T, loader history.Loader, store StoreWriter, pusher MetricsPusher) (*Pipeline, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	f := forecast.New(cfg.Forecast, zerolog.Nop())
	file := sink.NewFileSink(cfg.Output.Dir, zerolog.Nop())
	return New(cfg, loader, f, file, store, pusher, zerolog.Nop()).WithClock(testClock), cfg
}

func TestRunEndToEnd(t *testing.T) {
	store := newFakeStore()
	pusher := &fakePusher{}
	p, cfg := testPipeline(t, &fakeLoader{s: flatSeries(90, 100)}, store, pusher)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if p.State() != StateDone {
		t.Fatalf("state = %s, want done", p.State())
	}

	// Exactly 30 future rows, clustered near the flat $100/day input.
	if len(store.rows) != 30 {
		t.Fatalf("stored rows = %d, want 30", len(store.rows))
	}
	for key, row := range store.rows {
		if math.Abs(row.predicted-100) > 5 {
			t.Errorf("row %s predicted %.2f, want near 100", key, row.predicted)
		}
		if row.lower > row.predicted || row.predicted > row.upper {
			t.Errorf("row %s bounds out of order: %+v", key, row)
		}
		if row.method != "seasonal" {
			t.Errorf("row %s method %q, want seasonal", key, row.method)
		}
	}

	if pusher.pushed != 1 {
		t.Errorf("metrics pushed %d times, want 1", pusher.pushed)
	}

	path := filepath.Join(cfg.Output.Dir, "cost-forecast-2026-08-23.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot file not written: %v", err)
	}
}

func TestRunInsufficientData(t *testing.T) {
	store := newFakeStore()
	pusher := &fakePusher{}
	p, cfg := testPipeline(t, &fakeLoader{s: flatSeries(29, 100)}, store, pusher)

	err := p.Run(context.Background())
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("error = %v, want ErrInsufficientData", err)
	}
	if p.State() != StateFailed {
		t.Fatalf("state = %s, want failed", p.State())
	}

	// Nothing downstream of the guard may have run.
	if len(store.rows) != 0 || pusher.pushed != 0 {
		t.Error("sinks ran despite insufficient data")
	}
	entries, _ := os.ReadDir(cfg.Output.Dir)
	if len(entries) != 0 {
		t.Error("snapshot written despite insufficient data")
	}
}

func TestRunLoaderFailure(t *testing.T) {
	loadErr := fmt.Errorf("%w: connection refused", history.ErrUnavailable)
	p, _ := testPipeline(t, &fakeLoader{err: loadErr}, newFakeStore(), &fakePusher{})

	err := p.Run(context.Background())
	if !errors.Is(err, history.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if p.State() != StateFailed {
		t.Fatalf("state = %s, want failed", p.State())
	}
}

func TestRunMetricsFailureIsNonFatal(t *testing.T) {
	store := newFakeStore()
	pusher := &fakePusher{err: errors.New("gateway unreachable")}
	p, cfg := testPipeline(t, &fakeLoader{s: flatSeries(90, 100)}, store, pusher)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v, metrics failure must be swallowed", err)
	}
	if p.State() != StateDone {
		t.Fatalf("state = %s, want done", p.State())
	}

	// File and store sinks completed before the push was attempted.
	if len(store.rows) != 30 {
		t.Errorf("stored rows = %d, want 30", len(store.rows))
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.Dir, "cost-forecast-2026-08-23.json")); err != nil {
		t.Errorf("snapshot file not written: %v", err)
	}
}

func TestRunFileFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	pusher := &fakePusher{}
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	f := forecast.New(cfg.Forecast, zerolog.Nop())
	file := &fakeFile{err: errors.New("disk full")}
	p := New(cfg, &fakeLoader{s: flatSeries(90, 100)}, f, file, store, pusher, zerolog.Nop()).WithClock(testClock)

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected fatal error from file sink")
	}
	if p.State() != StateFailed {
		t.Fatalf("state = %s, want failed", p.State())
	}
	// Fixed persist order: store never ran after the file sink failed.
	if len(store.rows) != 0 || pusher.pushed != 0 {
		t.Error("later sinks ran after file sink failure")
	}
}

func TestRunStoreFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	store.writeErr = errors.New("insert rejected")
	p, _ := testPipeline(t, &fakeLoader{s: flatSeries(90, 100)}, store, &fakePusher{})

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected fatal error from store sink")
	}
	if p.State() != StateFailed {
		t.Fatalf("state = %s, want failed", p.State())
	}
}

func TestRerunReplacesStoredRows(t *testing.T) {
	store := newFakeStore()
	loader := &fakeLoader{s: flatSeries(90, 100)}

	p1, _ := testPipeline(t, loader, store, &fakePusher{})
	if err := p1.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	p2, _ := testPipeline(t, loader, store, &fakePusher{})
	if err := p2.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Same (run date, prediction date) keys: replaced, not duplicated.
	if len(store.rows) != 30 {
		t.Fatalf("stored rows after rerun = %d, want 30", len(store.rows))
	}
	for key, row := range store.rows {
		if row.ingestion != 2 {
			t.Errorf("row %s ingestion = %d, want latest write 2", key, row.ingestion)
		}
	}
}

func TestRunWithFallbackModel(t *testing.T) {
	store := newFakeStore()
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	f := forecast.NewWithModels(unavailableModel{}, forecast.NewARIMA(), zerolog.Nop())
	file := sink.NewFileSink(cfg.Output.Dir, zerolog.Nop())
	p := New(cfg, &fakeLoader{s: flatSeries(90, 100)}, f, file, store, &fakePusher{}, zerolog.Nop()).WithClock(testClock)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for key, row := range store.rows {
		if row.method != "arima" {
			t.Fatalf("row %s method %q, want arima via fallback", key, row.method)
		}
		if math.Abs(row.lower-0.9*row.predicted) > 1e-9 || math.Abs(row.upper-1.1*row.predicted) > 1e-9 {
			t.Fatalf("row %s fallback band not ±10%%: %+v", key, row)
		}
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateIdle:        "idle",
		StateLoading:     "loading",
		StateForecasting: "forecasting",
		StateValidating:  "validating",
		StatePersisting:  "persisting",
		StateDone:        "done",
		StateFailed:      "failed",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
