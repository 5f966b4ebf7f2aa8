package analytics

import (
	"math"

	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

// TrendConfig controls the trend analyzer.
type TrendConfig struct {
	Window     int                 `koanf:"window"`
	Epsilon    float64             `koanf:"epsilon"`
	Polarities map[string]Polarity `koanf:"-"`
}

func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		Window:  20,
		Epsilon: 0.01,
		Polarities: map[string]Polarity{
			sample.MetricQuality:   HigherIsBetter,
			sample.MetricLatency:   LowerIsBetter,
			sample.MetricErrorRate: LowerIsBetter,
			sample.MetricVolume:    HigherIsBetter,
			MetricOverallScore:     HigherIsBetter,
		},
	}
}

// TrendAnalyzer classifies the direction of a metric over the last Window samples.
type TrendAnalyzer struct {
	cfg TrendConfig
}

func NewTrendAnalyzer(cfg TrendConfig) *TrendAnalyzer {
	def := DefaultTrendConfig()
	if cfg.Window < 3 {
		cfg.Window = def.Window
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.Polarities == nil {
		cfg.Polarities = def.Polarities
	}
	return &TrendAnalyzer{cfg: cfg}
}

// Polarity returns the configured polarity for metric. Unknown metrics are
// treated as higher-is-better.
func (a *TrendAnalyzer) Polarity(metric string) Polarity {
	if p, ok := a.cfg.Polarities[metric]; ok {
		return p
	}
	return HigherIsBetter
}

// Analyze fits a line through the trailing window. Fewer than three samples
// yield a stable trend with zero confidence.
func (a *TrendAnalyzer) Analyze(metric string, values []float64) Trend {
	window := tail(values, a.cfg.Window)
	t := Trend{Metric: metric, Direction: TrendStable, Samples: len(window)}
	if len(window) < 3 {
		if len(window) > 0 {
			t.ForecastNext = window[len(window)-1]
		}
		return t
	}

	fit := fitLine(window)
	t.ChangeRate = fit.Slope
	t.Confidence = math.Abs(fit.R)
	t.ForecastNext = fit.At(float64(len(window)))
	t.Stability = stability(window)

	if math.Abs(fit.Slope) < a.cfg.Epsilon {
		return t
	}
	rising := fit.Slope > 0
	if a.Polarity(metric) == LowerIsBetter {
		rising = !rising
	}
	if rising {
		t.Direction = TrendImproving
	} else {
		t.Direction = TrendDeclining
	}
	return t
}

// stability maps the coefficient of variation into (0, 1].
func stability(values []float64) float64 {
	m, sd := meanStdDev(values)
	if sd == 0 {
		return 1
	}
	cv := sd
	if m != 0 {
		cv = sd / math.Abs(m)
	}
	return 1 / (1 + cv)
}
