package analytics

import (
	"context"
)

// Service runs trend, anomaly, forecast and health analysis over the feed.
type Service interface {
	// Analyze covers every unit the feed knows about.
	Analyze(ctx context.Context) (*Snapshot, error)

	// AnalyzeUnit covers a single unit.
	AnalyzeUnit(ctx context.Context, unit string) (*UnitReport, error)
}

// Config groups the analytics settings.
type Config struct {
	Lookback        int            `koanf:"lookback"`
	StabilityWindow int            `koanf:"stability_window"`
	ErrorRateWindow int            `koanf:"error_rate_window"`
	Trend           TrendConfig    `koanf:"trend"`
	Anomaly         AnomalyConfig  `koanf:"anomaly"`
	Forecast        ForecastConfig `koanf:"forecast"`
}

func DefaultConfig() Config {
	return Config{
		Lookback:        100,
		StabilityWindow: 10,
		ErrorRateWindow: 10,
		Trend:           DefaultTrendConfig(),
		Anomaly:         DefaultAnomalyConfig(),
		Forecast:        DefaultForecastConfig(),
	}
}
