package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestCollectors(t *testing.T) {
	c := NewCollectors(prometheus.NewRegistry())

	c.AlertFired("critical", "performance_degradation")
	c.AlertFired("critical", "performance_degradation")
	c.AlertSuppressed("cooldown")
	c.ActionFinished("latency_reduction", "completed")
	c.BatchAborted()
	c.SnapshotObserved(0.72, 0.9)
	c.JobRun("alerts", errors.New("boom"))
	c.NotificationSent("batch", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.alertsFired.WithLabelValues("critical", "performance_degradation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertsSuppressed.WithLabelValues("cooldown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.actionsTotal.WithLabelValues("latency_reduction", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchAborts))
	assert.Equal(t, 0.72, testutil.ToFloat64(c.healthScore))
	assert.Equal(t, 0.9, testutil.ToFloat64(c.reliabilityScore))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobRuns.WithLabelValues("alerts", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("batch", OutcomeSuccess)))
}

func TestCollectorsIndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollectors(prometheus.NewRegistry())
		NewCollectors(prometheus.NewRegistry())
	})
}

func TestRegistry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	r, err := NewRegistry(provider.Meter("test"))
	require.NoError(t, err)

	r.AlertFired("high", "anomaly_detection")
	r.CycleObserved(250*time.Millisecond, nil)
	r.SnapshotObserved(0.66, 0.8)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
			if m.Name == "pcl.health.score" {
				g, ok := m.Data.(metricdata.Gauge[float64])
				require.True(t, ok)
				require.Len(t, g.DataPoints, 1)
				assert.Equal(t, 0.66, g.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, names["pcl.alert.fired_total"])
	assert.True(t, names["pcl.optimization.cycle_duration"])
	assert.True(t, names["pcl.health.score"])
}

func TestMulti(t *testing.T) {
	a := NewCollectors(prometheus.NewRegistry())
	b := NewCollectors(prometheus.NewRegistry())
	m := Multi{a, b, Nop{}}

	m.AlertFired("low", "resource_exhaustion")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.alertsFired.WithLabelValues("low", "resource_exhaustion")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.alertsFired.WithLabelValues("low", "resource_exhaustion")))
}
