package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainerrors "github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/service/analytics"
	"github.com/davidleathers/performance-control-loop/internal/service/predictive"
)

type mockAnalytics struct {
	mock.Mock
}

func (m *mockAnalytics) Analyze(ctx context.Context) (*analytics.Snapshot, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.(*analytics.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockPredictive struct {
	mock.Mock
}

func (m *mockPredictive) Analyze(ctx context.Context) (*predictive.Insights, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.(*predictive.Insights), args.Error(1)
	}
	return nil, args.Error(1)
}

func testSnapshots() (*analytics.Snapshot, *predictive.Insights) {
	breach := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	as := &analytics.Snapshot{
		Health: analytics.HealthBreakdown{Score: 0.62, Status: analytics.HealthDegraded},
		Units:  []analytics.UnitReport{{Unit: "a", Samples: 10, AvgQuality: 0.6}, {Unit: "b", Samples: 10, AvgQuality: 0.9}},
		Comparison: analytics.Comparison{
			BestPerformer:  "b",
			WorstPerformer: "a",
		},
		Recommendations: []analytics.Recommendation{
			{Priority: analytics.PriorityMedium, Message: "analytics medium"},
			{Priority: analytics.PriorityCritical, Unit: "a", Message: "analytics critical"},
		},
	}
	ps := &predictive.Insights{
		ReliabilityScore:  0.85,
		EarlyWarnings:     []predictive.EarlyWarning{{Severity: predictive.SeverityCritical}, {Severity: predictive.SeverityWarning}},
		DriftAlerts:       []predictive.DriftAlert{{ModelName: "quality", Magnitude: 0.3}},
		CapacityForecasts: []predictive.CapacityForecast{{BreachTime: &breach}},
		Recommendations: []predictive.Recommendation{
			{Timeline: predictive.TimelineImmediate, Message: "predictive immediate"},
			{Timeline: predictive.TimelineWithinMonth, Message: "predictive month"},
		},
	}
	return as, ps
}

func TestCollect(t *testing.T) {
	as, ps := testSnapshots()
	ma, mp := new(mockAnalytics), new(mockPredictive)
	ma.On("Analyze", mock.Anything).Return(as, nil)
	mp.On("Analyze", mock.Anything).Return(ps, nil)

	snap, err := New(ma, mp, zaptest.NewLogger(t)).Collect(context.Background())

	require.NoError(t, err)
	assert.True(t, snap.Complete())
	assert.Same(t, as, snap.Analytics)
	assert.Same(t, ps, snap.Predictive)

	values := snap.MetricValues()
	assert.Equal(t, 0.62, values[analytics.MetricOverallScore])
	assert.Equal(t, 1.0, values[predictive.MetricCriticalWarnings])
	assert.Equal(t, 0.85, values[predictive.MetricReliabilityScore])

	assert.Equal(t, []string{"analytics critical", "analytics medium", "predictive immediate"}, snap.PriorityRecommendations(3))
	assert.Equal(t, []string{"analytics critical"}, snap.PriorityRecommendations(1))
	ma.AssertExpectations(t)
	mp.AssertExpectations(t)
}

func TestCollectPartialFailure(t *testing.T) {
	as, _ := testSnapshots()
	ma, mp := new(mockAnalytics), new(mockPredictive)
	ma.On("Analyze", mock.Anything).Return(as, nil)
	mp.On("Analyze", mock.Anything).Return(nil, errors.New("feed down"))

	snap, err := New(ma, mp, zaptest.NewLogger(t)).Collect(context.Background())

	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeIntegration))
	require.NotNil(t, snap, "the analytics half survives")
	assert.False(t, snap.Complete())
	assert.NotNil(t, snap.Analytics)
	assert.Nil(t, snap.Predictive)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, SourcePredictive, snap.Errors[0].Source)
	assert.Contains(t, snap.Errors[0].Message, "feed down")
}

func TestCollectTotalFailure(t *testing.T) {
	ma, mp := new(mockAnalytics), new(mockPredictive)
	ma.On("Analyze", mock.Anything).Return(nil, errors.New("a"))
	mp.On("Analyze", mock.Anything).Return(nil, errors.New("b"))

	snap, err := New(ma, mp, zaptest.NewLogger(t)).Collect(context.Background())

	assert.Nil(t, snap)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeIntegration))
}

func TestSummarize(t *testing.T) {
	as, ps := testSnapshots()
	ma, mp := new(mockAnalytics), new(mockPredictive)
	ma.On("Analyze", mock.Anything).Return(as, nil)
	mp.On("Analyze", mock.Anything).Return(ps, nil)

	sum, err := New(ma, mp, zaptest.NewLogger(t)).Summarize(context.Background())
	require.NoError(t, err)

	assert.False(t, sum.Degraded)
	assert.Equal(t, 0.62, sum.HealthScore)
	assert.Equal(t, "degraded", sum.HealthStatus)
	assert.Equal(t, 2, sum.Units)
	assert.Equal(t, "b", sum.BestPerformer)
	assert.Equal(t, 1, sum.CriticalWarnings)
	assert.Equal(t, 1, sum.DriftAlerts)
	require.NotNil(t, sum.CapacityBreach)

	require.Len(t, sum.Recommendations, 4)
	assert.Equal(t, "analytics critical", sum.Recommendations[0].Message)
	assert.Equal(t, "predictive immediate", sum.Recommendations[1].Message)
	for i, r := range sum.Recommendations {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestSummarizeDegraded(t *testing.T) {
	_, ps := testSnapshots()
	ma, mp := new(mockAnalytics), new(mockPredictive)
	ma.On("Analyze", mock.Anything).Return(nil, errors.New("units unavailable"))
	mp.On("Analyze", mock.Anything).Return(ps, nil)

	sum, err := New(ma, mp, zaptest.NewLogger(t)).Summarize(context.Background())

	require.NoError(t, err, "a partial summary is not an error")
	assert.True(t, sum.Degraded)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, SourceAnalytics, sum.Errors[0].Source)
	assert.Equal(t, 0.5, sum.HealthScore)
	assert.Equal(t, 0.85, sum.ReliabilityScore)
	assert.NotEmpty(t, sum.Recommendations)
}

func TestSummarizeNothingCollected(t *testing.T) {
	ma, mp := new(mockAnalytics), new(mockPredictive)
	ma.On("Analyze", mock.Anything).Return(nil, errors.New("a"))
	mp.On("Analyze", mock.Anything).Return(nil, errors.New("b"))

	sum, err := New(ma, mp, zaptest.NewLogger(t)).Summarize(context.Background())

	require.Error(t, err)
	require.NotNil(t, sum)
	assert.True(t, sum.Degraded)
	assert.NotEmpty(t, sum.Errors)
}
