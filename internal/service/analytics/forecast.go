package analytics

import (
	"math"
)

const modelLinear = "linear_regression"

type ForecastConfig struct {
	MinSamples int `koanf:"min_samples"`
	Horizon    int `koanf:"horizon"`
}

func DefaultForecastConfig() ForecastConfig {
	return ForecastConfig{MinSamples: 10, Horizon: 5}
}

// Forecaster projects a metric forward with an OLS fit over sample index.
//
// Accuracy is the absolute Pearson correlation of the fit, not R². For a
// constant series the correlation is undefined and accuracy is reported as 0
// while the projection stays at the constant with zero-width intervals.
type Forecaster struct {
	cfg ForecastConfig
}

func NewForecaster(cfg ForecastConfig) *Forecaster {
	def := DefaultForecastConfig()
	if cfg.MinSamples < 3 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	return &Forecaster{cfg: cfg}
}

// Forecast returns a placeholder with Horizon 0 when the series is too short.
func (f *Forecaster) Forecast(metric string, values []float64) Forecast {
	return f.ForecastAhead(metric, values, f.cfg.Horizon)
}

func (f *Forecaster) ForecastAhead(metric string, values []float64, horizon int) Forecast {
	fc := Forecast{Metric: metric, ModelType: modelLinear}
	if len(values) < f.cfg.MinSamples || horizon <= 0 {
		return fc
	}

	fit := fitLine(values)
	fc.Horizon = horizon
	fc.Accuracy = math.Abs(fit.R)
	fc.PredictedValues = make([]float64, horizon)
	fc.ConfidenceIntervals = make([]Interval, horizon)
	n := len(values)
	for h := 0; h < horizon; h++ {
		x := float64(n + h)
		p := fit.At(x)
		w := fit.predictionHalfWidth(x)
		fc.PredictedValues[h] = p
		fc.ConfidenceIntervals[h] = Interval{Lower: p - w, Upper: p + w}
	}
	return fc
}
