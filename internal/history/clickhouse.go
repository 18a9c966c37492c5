// Package history loads the historical daily cost series from ClickHouse.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cost-forecast/internal/config"
	"cost-forecast/internal/series"
)

// ErrUnavailable marks the cost store being unreachable or the query
// failing. It is fatal to the run and never retried; the daily schedule is
// the retry loop.
var ErrUnavailable = errors.New("cost history unavailable")

// Loader fetches the trailing daily cost series.
type Loader interface {
	Load(ctx context.Context, lookbackDays int) (series.Series, error)
}

// ClickHouseLoader reads daily aggregated cost from the aws_costs table.
type ClickHouseLoader struct {
	conn     clickhouse.Conn
	database string
	table    string
	log      zerolog.Logger
}

// NewClickHouseLoader opens a native-protocol connection to the cost store.
func NewClickHouseLoader(cfg config.ClickHouseConfig, log zerolog.Logger) (*ClickHouseLoader, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrUnavailable, err)
	}

	return &ClickHouseLoader{
		conn:     conn,
		database: cfg.Database,
		table:    cfg.CostsTable,
		log:      log,
	}, nil
}

// NewLoaderWithConn wraps an existing connection, sharing it with the
// forecast sink.
func NewLoaderWithConn(conn clickhouse.Conn, cfg config.ClickHouseConfig, log zerolog.Logger) *ClickHouseLoader {
	return &ClickHouseLoader{
		conn:     conn,
		database: cfg.Database,
		table:    cfg.CostsTable,
		log:      log,
	}
}

// Conn exposes the underlying connection so the forecast sink can share it.
func (l *ClickHouseLoader) Conn() clickhouse.Conn {
	return l.conn
}

// Ping checks store connectivity.
func (l *ClickHouseLoader) Ping(ctx context.Context) error {
	if err := l.conn.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the store connection.
func (l *ClickHouseLoader) Close() error {
	return l.conn.Close()
}

// Load returns one observation per day over the trailing window, daily
// totals aggregated server-side. cost_usd is a Decimal(18,6) money column;
// the sum is scanned as a decimal and converted for the float series the
// models consume.
func (l *ClickHouseLoader) Load(ctx context.Context, lookbackDays int) (series.Series, error) {
	l.log.Info().Int("days", lookbackDays).Msg("Fetching historical cost data")

	query := fmt.Sprintf(`
		SELECT date, sum(cost_usd) AS total
		FROM %s.%s
		WHERE date >= today() - ?
		GROUP BY date
		ORDER BY date
	`, l.database, l.table)

	rows, err := l.conn.Query(ctx, query, lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("%w: query daily costs: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var s series.Series
	for rows.Next() {
		var (
			day   time.Time
			total decimal.Decimal
		)
		if err := rows.Scan(&day, &total); err != nil {
			return nil, fmt.Errorf("%w: scan daily cost: %v", ErrUnavailable, err)
		}
		s = append(s, series.Observation{
			Date:    series.Day(day),
			CostUSD: total.InexactFloat64(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate daily costs: %v", ErrUnavailable, err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: malformed series: %v", ErrUnavailable, err)
	}

	if len(s) > 0 {
		l.log.Info().
			Int("points", len(s)).
			Str("from", s[0].Date.Format("2006-01-02")).
			Str("to", s[len(s)-1].Date.Format("2006-01-02")).
			Float64("avg_usd", s.Mean()).
			Msg("Historical cost data fetched")
	}

	return s, nil
}
