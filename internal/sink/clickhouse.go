package sink

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"

	"cost-forecast/internal/config"
)

// ClickHouseSink upserts the future forecast into the cost_forecasts table.
// The table replaces rows sharing (forecast_date, prediction_date) by
// latest ingestion timestamp, so re-running a day overwrites rather than
// duplicates.
type ClickHouseSink struct {
	conn     clickhouse.Conn
	database string
	table    string
	log      zerolog.Logger
}

// NewClickHouseSink wraps an existing store connection; the loader and the
// sink share one.
func NewClickHouseSink(conn clickhouse.Conn, cfg config.ClickHouseConfig, log zerolog.Logger) *ClickHouseSink {
	return &ClickHouseSink{
		conn:     conn,
		database: cfg.Database,
		table:    cfg.ForecastTable,
		log:      log,
	}
}

// EnsureTable creates the forecast table if missing. Idempotent.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			forecast_date Date,
			prediction_date Date,
			predicted_cost Float64,
			lower_bound Float64,
			upper_bound Float64,
			forecast_method String,
			ingestion_timestamp DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(ingestion_timestamp)
		PARTITION BY toYYYYMM(prediction_date)
		ORDER BY (forecast_date, prediction_date)
		SETTINGS index_granularity = 8192
	`, s.database, s.table)

	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating forecast table: %w", err)
	}
	return nil
}

// Write batch-inserts one row per future forecast point. Failure is fatal
// to the run; there is no partial retry.
func (s *ClickHouseSink) Write(ctx context.Context, snap Snapshot) error {
	future := snap.Future()
	if len(future) == 0 {
		return fmt.Errorf("no future forecast points to store")
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(`
		INSERT INTO %s.%s
		(forecast_date, prediction_date, predicted_cost, lower_bound, upper_bound, forecast_method)
	`, s.database, s.table))
	if err != nil {
		return fmt.Errorf("preparing forecast batch: %w", err)
	}

	for _, p := range future {
		if err := batch.Append(
			snap.RunDate,
			p.Date,
			p.Predicted,
			p.Lower,
			p.Upper,
			snap.Result.Metrics.Method,
		); err != nil {
			return fmt.Errorf("appending forecast row for %s: %w", p.Date.Format("2006-01-02"), err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("inserting forecast rows: %w", err)
	}

	s.log.Info().Int("rows", len(future)).Str("table", s.table).Msg("Forecast loaded into ClickHouse")
	return nil
}
