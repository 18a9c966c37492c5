package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// FileSink writes the structured forecast snapshot for dashboards that read
// from disk. The destination directory must exist before Write runs.
type FileSink struct {
	dir string
	log zerolog.Logger
}

// NewFileSink returns a sink writing under dir.
func NewFileSink(dir string, log zerolog.Logger) *FileSink {
	return &FileSink{dir: dir, log: log}
}

type fileDocument struct {
	Metadata fileMetadata `json:"metadata"`
	Forecast []filePoint  `json:"forecast"`
}

type fileMetadata struct {
	RunID           string  `json:"run_id"`
	ForecastDate    string  `json:"forecast_date"`
	Method          string  `json:"method"`
	MAPE            float64 `json:"mape"`
	RMSE            float64 `json:"rmse"`
	TrainingSamples int     `json:"training_samples"`
	ForecastDays    int     `json:"forecast_days"`
}

type filePoint struct {
	Date          string  `json:"date"`
	PredictedCost float64 `json:"predicted_cost"`
	LowerBound    float64 `json:"lower_bound"`
	UpperBound    float64 `json:"upper_bound"`
}

// Path returns the snapshot path for a run date.
func (f *FileSink) Path(runDate time.Time) string {
	return filepath.Join(f.dir, fmt.Sprintf("cost-forecast-%s.json", runDate.Format("2006-01-02")))
}

// Write persists the future-only forecast with its metadata and returns the
// written path. Failure here is fatal to the run.
func (f *FileSink) Write(_ context.Context, snap Snapshot) (string, error) {
	doc := fileDocument{
		Metadata: fileMetadata{
			RunID:           snap.RunID.String(),
			ForecastDate:    snap.GeneratedAt.UTC().Format(time.RFC3339),
			Method:          snap.Result.Metrics.Method,
			MAPE:            snap.Result.Metrics.MAPE,
			RMSE:            snap.Result.Metrics.RMSE,
			TrainingSamples: snap.Result.Metrics.TrainingSamples,
			ForecastDays:    snap.Result.Metrics.HorizonDays,
		},
	}
	for _, p := range snap.Future() {
		doc.Forecast = append(doc.Forecast, filePoint{
			Date:          p.Date.Format("2006-01-02"),
			PredictedCost: p.Predicted,
			LowerBound:    p.Lower,
			UpperBound:    p.Upper,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding forecast snapshot: %w", err)
	}

	path := f.Path(snap.RunDate)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing forecast snapshot: %w", err)
	}

	f.log.Info().Str("path", path).Int("days", len(doc.Forecast)).Msg("Forecast snapshot saved")
	return path, nil
}
