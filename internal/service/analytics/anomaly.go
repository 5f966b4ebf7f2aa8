package analytics

import (
	"math"

	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

// AnomalyConfig controls the sliding z-score detector.
type AnomalyConfig struct {
	MinSamples  int     `koanf:"min_samples"`
	MaxWindow   int     `koanf:"max_window"`
	Sensitivity float64 `koanf:"sensitivity"`
}

func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		MinSamples:  10,
		MaxWindow:   10,
		Sensitivity: 2.0,
	}
}

type AnomalyDetector struct {
	cfg AnomalyConfig
}

func NewAnomalyDetector(cfg AnomalyConfig) *AnomalyDetector {
	def := DefaultAnomalyConfig()
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = def.MaxWindow
	}
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = def.Sensitivity
	}
	return &AnomalyDetector{cfg: cfg}
}

// Detect compares each sample with the window that precedes it. Series
// shorter than MinSamples return nil. Windows with zero deviation never flag.
func (d *AnomalyDetector) Detect(series []sample.MetricSample) []Anomaly {
	n := len(series)
	if n < d.cfg.MinSamples {
		return nil
	}
	window := n / 2
	if window > d.cfg.MaxWindow {
		window = d.cfg.MaxWindow
	}

	values := sample.Values(series)
	var out []Anomaly
	for i := window; i < n; i++ {
		m, sd := meanStdDev(values[i-window : i])
		if sd == 0 || math.IsNaN(sd) {
			continue
		}
		z := math.Abs(values[i]-m) / sd
		if z <= d.cfg.Sensitivity {
			continue
		}
		kind := AnomalyDrop
		if values[i] > m {
			kind = AnomalySpike
		}
		out = append(out, Anomaly{
			Timestamp: series[i].Timestamp,
			Index:     i,
			Metric:    series[i].MetricName,
			Expected:  m,
			Actual:    values[i],
			ZScore:    z,
			Severity:  severityForZ(z),
			Type:      kind,
			Context:   series[i].Context,
		})
	}
	return out
}

func severityForZ(z float64) AnomalySeverity {
	switch {
	case z > 4:
		return AnomalyCritical
	case z > 3:
		return AnomalyHigh
	case z > 2.5:
		return AnomalyMedium
	default:
		return AnomalyLow
	}
}
