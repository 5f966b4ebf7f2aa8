package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/performance-control-loop/internal/testutil/fixtures"
)

func TestForecasterInsufficientSamples(t *testing.T) {
	f := NewForecaster(DefaultForecastConfig())

	fc := f.Forecast("quality", fixtures.Linear(9, 0, 1))

	assert.Zero(t, fc.Horizon)
	assert.Empty(t, fc.PredictedValues)
	assert.Empty(t, fc.ConfidenceIntervals)
}

func TestForecasterExactLine(t *testing.T) {
	f := NewForecaster(DefaultForecastConfig())

	fc := f.Forecast("volume", fixtures.Linear(10, 2, 3))

	require.Equal(t, 5, fc.Horizon)
	assert.InDelta(t, 1.0, fc.Accuracy, 1e-9)
	for h, p := range fc.PredictedValues {
		assert.InDelta(t, 2+3*float64(10+h), p, 1e-9)
		assert.InDelta(t, 0, fc.ConfidenceIntervals[h].Upper-fc.ConfidenceIntervals[h].Lower, 1e-9)
	}
}

func TestForecasterIntervalsContainPrediction(t *testing.T) {
	f := NewForecaster(ForecastConfig{MinSamples: 10, Horizon: 8})
	values := make([]float64, 40)
	for i := range values {
		values[i] = 0.5 + 0.01*float64(i) + 0.05*math.Sin(float64(i))
	}

	fc := f.Forecast("quality", values)

	require.Len(t, fc.PredictedValues, 8)
	prevWidth := 0.0
	for h, p := range fc.PredictedValues {
		ci := fc.ConfidenceIntervals[h]
		assert.LessOrEqual(t, ci.Lower, p)
		assert.LessOrEqual(t, p, ci.Upper)
		width := ci.Upper - ci.Lower
		assert.Greater(t, width, prevWidth, "intervals widen away from the data")
		prevWidth = width
	}
	assert.Equal(t, modelLinear, fc.ModelType)
}

func TestForecasterConstantInput(t *testing.T) {
	f := NewForecaster(DefaultForecastConfig())

	fc := f.Forecast("latency", fixtures.Constant(10, 3.0))

	require.Equal(t, 5, fc.Horizon)
	for h, p := range fc.PredictedValues {
		assert.InDelta(t, 3.0, p, 1e-9)
		ci := fc.ConfidenceIntervals[h]
		assert.InDelta(t, 0, ci.Upper-ci.Lower, 1e-9)
		assert.LessOrEqual(t, ci.Lower, p)
		assert.LessOrEqual(t, p, ci.Upper)
	}
	assert.Zero(t, fc.Accuracy, "correlation is undefined for a constant series")
}
