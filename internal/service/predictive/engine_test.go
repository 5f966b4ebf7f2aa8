package predictive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	domainerrors "github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
	"github.com/davidleathers/performance-control-loop/internal/testutil/fixtures"
)

func newTestEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixtures.Epoch.Add(24 * time.Hour) })}, opts...)
	return NewEngine(cfg, zaptest.NewLogger(t), opts...)
}

func record(e *Engine, metric string, values []float64, step time.Duration) {
	for i, v := range values {
		e.Record(metric, fixtures.Epoch.Add(time.Duration(i)*step), v)
	}
}

func TestHistoryIsBoundedFIFO(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHistory = 50
	e := newTestEngine(t, cfg)

	record(e, "quality", fixtures.Linear(80, 0, 1), time.Minute)

	assert.Equal(t, 50, e.HistoryLen("quality"))
	assert.Equal(t, 30.0, e.hist.values("quality")[0], "oldest points evicted first")
}

func TestPredictions(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	record(e, "short", fixtures.Linear(19, 0, 1), time.Minute)
	record(e, "noisy", fixtures.Alternating(40, 0.5, 0.3), time.Minute)
	record(e, "medium", fixtures.Linear(30, 0.2, 0.01), time.Minute)
	record(e, "long", fixtures.Linear(120, 1, 0.5), time.Minute)

	in, err := e.Analyze(context.Background())
	require.NoError(t, err)

	byMetric := map[string]Prediction{}
	for _, p := range in.Predictions {
		byMetric[p.Metric] = p
	}
	require.Len(t, byMetric, 2, "short and noisy series are not surfaced")
	assert.Equal(t, ConfidenceMedium, byMetric["medium"].Confidence)
	assert.Equal(t, ConfidenceVeryHigh, byMetric["long"].Confidence)
	assert.Len(t, byMetric["long"].Predicted, 5)
	assert.InDelta(t, 1+0.5*120, byMetric["long"].Predicted[0], 1e-6)

	want := (0.6*byMetric["medium"].Accuracy + 1.0*byMetric["long"].Accuracy) / 1.6
	assert.InDelta(t, want, in.ReliabilityScore, 1e-9)
}

func TestConfidenceFor(t *testing.T) {
	tests := []struct {
		accuracy float64
		n        int
		want     ConfidenceLevel
	}{
		{0.95, 101, ConfidenceVeryHigh},
		{0.95, 100, ConfidenceHigh},
		{0.85, 51, ConfidenceHigh},
		{0.85, 50, ConfidenceMedium},
		{0.75, 21, ConfidenceMedium},
		{0.95, 20, ConfidenceLow},
		{0.7, 500, ConfidenceLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, confidenceFor(tt.accuracy, tt.n), "acc=%v n=%d", tt.accuracy, tt.n)
	}
}

func TestQualityDeclineCritical(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	record(e, sample.MetricQuality, fixtures.Concat(fixtures.Constant(20, 0.70), fixtures.Constant(5, 0.50)), time.Minute)

	in, err := e.Analyze(context.Background())
	require.NoError(t, err)

	require.Len(t, in.EarlyWarnings, 1)
	w := in.EarlyWarnings[0]
	assert.Equal(t, SeverityCritical, w.Severity)
	assert.Equal(t, WarningQualityDecline, w.AlertType)
	assert.InDelta(t, 0.2857, w.ChangeRatio, 1e-3)
	assert.Zero(t, w.TimeToImpact, "already past the critical level")
	assert.NotEmpty(t, w.RecommendedActions)

	require.NotEmpty(t, in.Recommendations)
	assert.Equal(t, TimelineImmediate, in.Recommendations[0].Timeline)
}

func TestQualityDeclineWarningOnly(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	record(e, sample.MetricQuality, fixtures.Concat(fixtures.Constant(20, 0.80), fixtures.Constant(5, 0.64)), time.Hour)

	in, err := e.Analyze(context.Background())
	require.NoError(t, err)

	require.Len(t, in.EarlyWarnings, 1)
	w := in.EarlyWarnings[0]
	assert.Equal(t, SeverityWarning, w.Severity)
	assert.InDelta(t, 0.2, w.ChangeRatio, 1e-9)
	// 0.04 headroom to the critical level at 0.032 per hourly sample
	assert.InDelta(t, 1.25*float64(time.Hour), float64(w.TimeToImpact), float64(time.Second))
}

func TestLatencyIncrease(t *testing.T) {
	tests := []struct {
		name     string
		recent   float64
		step     time.Duration
		severity WarningSeverity
		warned   bool
	}{
		{"below threshold", 1.25, time.Minute, 0, false},
		{"warning", 1.35, time.Hour, SeverityWarning, true},
		{"urgent when impact is imminent", 1.35, time.Minute, SeverityUrgent, true},
		{"critical", 1.6, time.Minute, SeverityCritical, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, DefaultConfig())
			record(e, sample.MetricLatency, fixtures.Concat(fixtures.Constant(20, 1.0), fixtures.Constant(5, tt.recent)), tt.step)

			in, err := e.Analyze(context.Background())
			require.NoError(t, err)

			if !tt.warned {
				assert.Empty(t, in.EarlyWarnings)
				return
			}
			require.Len(t, in.EarlyWarnings, 1)
			assert.Equal(t, WarningLatencyIncrease, in.EarlyWarnings[0].AlertType)
			assert.Equal(t, tt.severity, in.EarlyWarnings[0].Severity)
		})
	}
}

func TestLoadImbalance(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	for i := 0; i < 80; i++ {
		e.RecordUnit("busy", sample.Interaction{Timestamp: fixtures.Epoch.Add(time.Duration(i) * time.Second), Quality: 0.9, LatencySeconds: 1})
	}
	for i := 0; i < 20; i++ {
		e.RecordUnit("idle", sample.Interaction{Timestamp: fixtures.Epoch.Add(time.Duration(i) * time.Second), Quality: 0.9, LatencySeconds: 1})
	}

	in, err := e.Analyze(context.Background())
	require.NoError(t, err)

	var imbalance []EarlyWarning
	for _, w := range in.EarlyWarnings {
		if w.AlertType == WarningLoadImbalance {
			imbalance = append(imbalance, w)
		}
	}
	require.Len(t, imbalance, 1)
	assert.Equal(t, "busy", imbalance[0].Unit)
	assert.InDelta(t, 0.8, imbalance[0].ChangeRatio, 1e-9)
}

func TestCapacityForecast(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	record(e, sample.MetricVolume, fixtures.Linear(20, 100, 10), time.Hour)

	in, err := e.Analyze(context.Background())
	require.NoError(t, err)

	require.Len(t, in.CapacityForecasts, 1)
	fc := in.CapacityForecasts[0]
	assert.InDelta(t, 1.2*290, fc.Threshold, 1e-9)
	assert.InDelta(t, 290/348.0, fc.CurrentUtil, 1e-9)
	require.NotNil(t, fc.BreachTime)
	assert.Equal(t, fixtures.Epoch.Add(19*time.Hour).Add(6*time.Hour), *fc.BreachTime)
	assert.NotEmpty(t, fc.ScalingRecs)
	assert.Len(t, fc.PredictedUtil, 24)
	assert.Greater(t, fc.PredictedUtil[5], 1.0)

	values := in.MetricValues()
	assert.InDelta(t, 1.0, values[MetricHoursToBreach], 1e-9)
}

func TestCapacityForecastFlatVolume(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	record(e, sample.MetricVolume, fixtures.Constant(20, 100), time.Hour)

	in, err := e.Analyze(context.Background())
	require.NoError(t, err)

	require.Len(t, in.CapacityForecasts, 1)
	assert.Nil(t, in.CapacityForecasts[0].BreachTime)
	assert.Empty(t, in.CapacityForecasts[0].ScalingRecs)
	assert.NotContains(t, in.MetricValues(), MetricHoursToBreach)
}

func TestCapacityForecastNeedsHistory(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	e := NewEngine(DefaultConfig(), zap.New(core), WithClock(func() time.Time { return fixtures.Epoch.Add(24 * time.Hour) }))
	record(e, sample.MetricVolume, fixtures.Constant(4, 100), time.Hour)

	in, err := e.Analyze(context.Background())
	require.NoError(t, err)

	assert.Empty(t, in.CapacityForecasts)
	skipped := logs.FilterMessage("capacity forecast skipped").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "capacity_forecast requires 10 samples, have 4", skipped[0].ContextMap()["error"])
}

func TestDriftDetection(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	record(e, "shifted", fixtures.Concat(fixtures.Alternating(30, 0.9, 0.02), fixtures.Alternating(30, 0.5, 0.02)), time.Minute)
	record(e, "steady", fixtures.Alternating(60, 0.9, 0.02), time.Minute)
	record(e, "short", fixtures.Concat(fixtures.Constant(20, 1), fixtures.Constant(20, 5)), time.Minute)

	in, err := e.Analyze(context.Background())
	require.NoError(t, err)

	require.Len(t, in.DriftAlerts, 1)
	d := in.DriftAlerts[0]
	assert.Equal(t, "shifted", d.ModelName)
	assert.Equal(t, driftMeanShift, d.DriftType)
	assert.InDelta(t, 0.4/0.9, d.Magnitude, 1e-9)
	assert.InDelta(t, 1.0, d.Statistic, 1e-9)
	assert.Less(t, d.PValue, 0.05)
}

func TestDriftMagnitudeClamped(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	record(e, "latency", fixtures.Concat(fixtures.Constant(25, 1), fixtures.Constant(25, 9)), time.Minute)

	in, err := e.Analyze(context.Background())
	require.NoError(t, err)

	require.Len(t, in.DriftAlerts, 1)
	assert.Equal(t, 1.0, in.DriftAlerts[0].Magnitude)
}

func TestKSPValue(t *testing.T) {
	assert.Equal(t, 1.0, ksPValue(0, 30, 30))
	assert.Less(t, ksPValue(1, 30, 30), 1e-6)
	assert.Greater(t, ksPValue(0.1, 30, 30), 0.5)
}

func TestIngestFeedWatermarks(t *testing.T) {
	now := fixtures.Epoch.Add(30 * time.Minute)
	source := fixtures.NewSource(map[string][]sample.Interaction{
		"a": fixtures.Interactions(fixtures.Constant(10, 0.9), fixtures.Constant(10, 1)),
	})
	e := newTestEngine(t, DefaultConfig(), WithSource(source), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, e.IngestFeed(ctx, source))
	assert.Equal(t, 10, e.HistoryLen(sample.MetricQuality))
	assert.Equal(t, 10, e.HistoryLen(unitKey(sample.MetricQuality, "a")))
	assert.Zero(t, e.HistoryLen(sample.MetricVolume), "the current hour is still open")

	require.NoError(t, e.IngestFeed(ctx, source))
	assert.Equal(t, 10, e.HistoryLen(sample.MetricQuality), "already seen interactions are not recorded again")

	source.Set("a", fixtures.Interactions(fixtures.Constant(13, 0.9), fixtures.Constant(13, 1)))
	_, err := e.Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, 13, e.HistoryLen(sample.MetricQuality))
	assert.Zero(t, e.HistoryLen(sample.MetricVolume))

	now = fixtures.Epoch.Add(90 * time.Minute)
	_, err = e.Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{13}, e.hist.values(sample.MetricVolume))

	// These land in the first hour, which has already been emitted.
	source.Set("a", fixtures.Interactions(fixtures.Constant(16, 0.9), fixtures.Constant(16, 1)))
	now = fixtures.Epoch.Add(3 * time.Hour)
	_, err = e.Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, e.HistoryLen(sample.MetricQuality))
	assert.Equal(t, []float64{13, 0, 0}, e.hist.values(sample.MetricVolume))
}

func TestIngestFeedMergesUnitsInTimeOrder(t *testing.T) {
	source := fixtures.NewSource(map[string][]sample.Interaction{
		"a": fixtures.Interactions(fixtures.Constant(30, 0.9), fixtures.Constant(30, 1)),
		"b": fixtures.Interactions(fixtures.Constant(30, 0.5), fixtures.Constant(30, 3)),
	})
	e := newTestEngine(t, DefaultConfig(), WithSource(source))

	in, err := e.Analyze(context.Background())
	require.NoError(t, err)

	quality := e.hist.values(sample.MetricQuality)
	require.Len(t, quality, 60)
	assert.Equal(t, []float64{0.9, 0.5, 0.9, 0.5}, quality[:4])

	assert.Empty(t, in.DriftAlerts, "two steady units are not a shift")
	for _, p := range in.Predictions {
		assert.NotEqual(t, sample.MetricQuality, p.Metric)
		assert.NotEqual(t, sample.MetricLatency, p.Metric)
	}
}

// hourlyLoad returns 10+2h interactions in hour h, one minute apart.
func hourlyLoad(hours int) []sample.Interaction {
	var out []sample.Interaction
	for h := 0; h < hours; h++ {
		for j := 0; j < 10+2*h; j++ {
			out = append(out, sample.Interaction{
				Timestamp:      fixtures.Epoch.Add(time.Duration(h)*time.Hour + time.Duration(j)*time.Minute),
				Quality:        0.9,
				LatencySeconds: 1,
			})
		}
	}
	return out
}

func until(in []sample.Interaction, t time.Time) []sample.Interaction {
	var out []sample.Interaction
	for _, it := range in {
		if !it.Timestamp.After(t) {
			out = append(out, it)
		}
	}
	return out
}

func TestCapacityForecastIndependentOfReadCadence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lookback = 1000
	load := hourlyLoad(12)
	end := fixtures.Epoch.Add(12 * time.Hour)
	ctx := context.Background()

	once := newTestEngine(t, cfg,
		WithSource(fixtures.NewSource(map[string][]sample.Interaction{"a": load})),
		WithClock(func() time.Time { return end }))
	want, err := once.Analyze(ctx)
	require.NoError(t, err)

	now := fixtures.Epoch
	source := fixtures.NewSource(nil)
	polled := newTestEngine(t, cfg, WithSource(source), WithClock(func() time.Time { return now }))
	calls := 0
	for now = fixtures.Epoch.Add(7 * time.Minute); now.Before(end); now = now.Add(7 * time.Minute) {
		source.Set("a", until(load, now))
		_, err := polled.Analyze(ctx)
		require.NoError(t, err)
		calls++
	}
	now = end
	source.Set("a", load)
	got, err := polled.Analyze(ctx)
	require.NoError(t, err)
	require.Greater(t, calls, 100)

	wantVolume := fixtures.Linear(12, 10, 2)
	assert.Equal(t, wantVolume, once.hist.values(sample.MetricVolume))
	assert.Equal(t, wantVolume, polled.hist.values(sample.MetricVolume))
	require.Len(t, want.CapacityForecasts, 1)
	assert.Equal(t, want.CapacityForecasts, got.CapacityForecasts)
}

func TestAnalyzeFeedFailure(t *testing.T) {
	source := fixtures.NewSource(nil)
	source.UnitsErr = errors.New("boom")
	e := newTestEngine(t, DefaultConfig(), WithSource(source))

	in, err := e.Analyze(context.Background())

	assert.Nil(t, in)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeIntegration))
}

func TestRecommendationsOrdered(t *testing.T) {
	now := fixtures.Epoch
	breach := now.Add(3 * 24 * time.Hour)
	in := &Insights{
		EarlyWarnings: []EarlyWarning{
			{Severity: SeverityWarning, AlertType: WarningLoadImbalance, Metric: "volume", Confidence: 0.8},
			{Severity: SeverityCritical, AlertType: WarningQualityDecline, Metric: "quality", Confidence: 1},
		},
		CapacityForecasts: []CapacityForecast{{ResourceType: resourceVolume, BreachTime: &breach, Threshold: 10}},
		DriftAlerts:       []DriftAlert{{ModelName: "quality", DriftType: driftMeanShift, Magnitude: 0.2}},
	}

	recs := recommend(in, now)

	require.Len(t, recs, 4)
	assert.Equal(t, TimelineImmediate, recs[0].Timeline)
	assert.Equal(t, "early_warning", recs[0].Source)
	assert.Equal(t, TimelineWithinWeek, recs[1].Timeline)
	assert.Equal(t, "capacity", recs[1].Source)
	assert.Equal(t, TimelineWithinWeek, recs[2].Timeline)
	assert.Equal(t, TimelineWithinMonth, recs[3].Timeline)
	assert.Equal(t, "drift", recs[3].Source)
}
