package predictive

import (
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

// predictions fits every metric with enough history and keeps only fits whose
// accuracy clears MinAccuracy.
func (e *Engine) predictions() []Prediction {
	var out []Prediction
	for _, metric := range e.hist.metrics() {
		if base, _ := splitKey(metric); base == sample.MetricVolume {
			continue
		}
		values := e.hist.values(metric)
		if len(values) < e.cfg.MinPredictionSamples {
			continue
		}
		fc := e.forecaster.Forecast(metric, values)
		if fc.Horizon == 0 || fc.Accuracy < e.cfg.MinAccuracy {
			continue
		}
		out = append(out, Prediction{
			Metric:     metric,
			Samples:    len(values),
			Current:    values[len(values)-1],
			Predicted:  fc.PredictedValues,
			Intervals:  fc.ConfidenceIntervals,
			Accuracy:   fc.Accuracy,
			Confidence: confidenceFor(fc.Accuracy, len(values)),
		})
	}
	return out
}

func confidenceFor(accuracy float64, n int) ConfidenceLevel {
	switch {
	case accuracy > 0.9 && n > 100:
		return ConfidenceVeryHigh
	case accuracy > 0.8 && n > 50:
		return ConfidenceHigh
	case accuracy > 0.7 && n > 20:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// reliability is the confidence weighted mean accuracy of surfaced predictions.
func reliability(preds []Prediction) float64 {
	var num, den float64
	for _, p := range preds {
		w := p.Confidence.Weight()
		num += w * p.Accuracy
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}
