package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
	"github.com/davidleathers/performance-control-loop/internal/testutil/fixtures"
)

func TestAnomalyDetectorInsufficientSamples(t *testing.T) {
	d := NewAnomalyDetector(DefaultAnomalyConfig())

	for n := 0; n < 10; n++ {
		values := fixtures.Constant(n, 1)
		if n > 0 {
			values[n-1] = 100
		}
		assert.Empty(t, d.Detect(fixtures.Samples(sample.MetricLatency, values)), "n=%d", n)
	}
}

func TestAnomalyDetectorZeroVarianceNeverFlags(t *testing.T) {
	d := NewAnomalyDetector(DefaultAnomalyConfig())

	assert.Empty(t, d.Detect(fixtures.Samples(sample.MetricLatency, fixtures.Constant(50, 5.0))))

	// the spike follows a perfectly flat window, so there is no spread to score it against
	flatThenSpike := fixtures.Constant(30, 5.0)
	flatThenSpike[20] = 40
	assert.Empty(t, d.Detect(fixtures.Samples(sample.MetricLatency, flatThenSpike)))
}

func TestAnomalyDetectorCriticalSpike(t *testing.T) {
	d := NewAnomalyDetector(DefaultAnomalyConfig())

	values := fixtures.Alternating(30, 5.0, 0.01)
	values[20] = 40.0

	anomalies := d.Detect(fixtures.Samples(sample.MetricLatency, values))

	require.Len(t, anomalies, 1)
	a := anomalies[0]
	assert.Equal(t, 20, a.Index)
	assert.Equal(t, AnomalyCritical, a.Severity)
	assert.Equal(t, AnomalySpike, a.Type)
	assert.Equal(t, 40.0, a.Actual)
	assert.InDelta(t, 5.0, a.Expected, 1e-9)
	assert.Equal(t, fixtures.Epoch.Add(20*time.Minute), a.Timestamp)
}

func TestAnomalyDetectorDrop(t *testing.T) {
	d := NewAnomalyDetector(DefaultAnomalyConfig())

	values := fixtures.Alternating(20, 0.9, 0.02)
	values[15] = 0.2

	anomalies := d.Detect(fixtures.Samples(sample.MetricQuality, values))

	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyDrop, anomalies[0].Type)
}

func TestSeverityForZ(t *testing.T) {
	tests := []struct {
		z    float64
		want AnomalySeverity
	}{
		{2.1, AnomalyLow},
		{2.5, AnomalyLow},
		{2.6, AnomalyMedium},
		{3.0, AnomalyMedium},
		{3.5, AnomalyHigh},
		{4.0, AnomalyHigh},
		{4.01, AnomalyCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, severityForZ(tt.z), "z=%v", tt.z)
	}
}
