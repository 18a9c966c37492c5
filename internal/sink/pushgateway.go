package sink

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"

	"cost-forecast/internal/config"
)

// GatewaySink pushes the run's scalar gauges to the Pushgateway for
// alerting. The orchestrator treats a push failure as non-fatal: alerting
// being down must not fail the forecast itself.
type GatewaySink struct {
	url string
	job string
	log zerolog.Logger
}

// NewGatewaySink returns a sink targeting the configured gateway.
func NewGatewaySink(cfg config.MetricsConfig, log zerolog.Logger) *GatewaySink {
	return &GatewaySink{url: cfg.PushgatewayURL, job: cfg.Job, log: log}
}

// Push publishes the five forecast gauges on a private registry under the
// fixed job label.
func (g *GatewaySink) Push(ctx context.Context, snap Snapshot) error {
	registry := prometheus.NewRegistry()

	mape := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cost_forecast_mape_percent",
		Help: "Mean absolute percentage error of the cost forecast model.",
	})
	rmse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cost_forecast_rmse_usd",
		Help: "Root mean squared error of the cost forecast model.",
	})
	total30d := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cost_forecast_30d_total_usd",
		Help: "Predicted total cost over the full forecast horizon.",
	})
	total7d := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cost_forecast_7d_total_usd",
		Help: "Predicted total cost over the next 7 days.",
	})
	timestamp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cost_forecast_timestamp",
		Help: "Unix timestamp of the last successful forecast.",
	})

	for _, c := range []prometheus.Collector{mape, rmse, total30d, total7d, timestamp} {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("registering forecast gauge: %w", err)
		}
	}

	mape.Set(snap.Result.Metrics.MAPE)
	rmse.Set(snap.Result.Metrics.RMSE)
	total30d.Set(snap.FutureTotal(0))
	total7d.Set(snap.FutureTotal(7))
	timestamp.Set(float64(snap.GeneratedAt.Unix()))

	if err := push.New(g.url, g.job).Gatherer(registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing forecast metrics: %w", err)
	}

	g.log.Info().Str("gateway", g.url).Str("job", g.job).Msg("Forecast metrics pushed")
	return nil
}
