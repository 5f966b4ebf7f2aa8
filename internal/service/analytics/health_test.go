package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
	"github.com/davidleathers/performance-control-loop/internal/testutil/fixtures"
)

func TestHealthScorerFallbacks(t *testing.T) {
	h := NewHealthScorer(zaptest.NewLogger(t))

	b := h.Score(HealthInput{})

	assert.Equal(t, 1.0, b.TrendHealth)
	assert.Equal(t, 1.0, b.AnomalyHealth)
	assert.Equal(t, fallbackPerformance, b.PerformanceHealth)
	assert.Equal(t, fallbackStability, b.StabilityHealth)
	assert.InDelta(t, 0.8975, b.Score, 1e-9)
	assert.Equal(t, HealthGood, b.Status)
}

func TestHealthScorerWeights(t *testing.T) {
	h := NewHealthScorer(zaptest.NewLogger(t))

	severe := make([]Anomaly, 5)
	for i := range severe {
		severe[i] = Anomaly{Severity: AnomalyHigh}
	}
	b := h.Score(HealthInput{
		Trends:         []Trend{{Direction: TrendDeclining}, {Direction: TrendStable}},
		Anomalies:      append(severe, Anomaly{Severity: AnomalyLow}),
		RecentQuality:  []float64{0.6, 0.8},
		QualityWindows: [][]float64{fixtures.Constant(5, 0.7)},
	})

	assert.InDelta(t, 0.5, b.TrendHealth, 1e-9)
	assert.InDelta(t, 0.5, b.AnomalyHealth, 1e-9)
	assert.InDelta(t, 0.7, b.PerformanceHealth, 1e-9)
	assert.InDelta(t, 1.0, b.StabilityHealth, 1e-9)
	assert.InDelta(t, 0.3*0.5+0.25*0.5+0.25*0.7+0.2*1.0, b.Score, 1e-9)
	assert.Equal(t, HealthDegraded, b.Status)
}

func TestHealthScorerAlwaysInUnitRange(t *testing.T) {
	h := NewHealthScorer(zaptest.NewLogger(t))

	many := make([]Anomaly, 40)
	for i := range many {
		many[i] = Anomaly{Severity: AnomalyCritical}
	}

	inputs := map[string]HealthInput{
		"empty":             {},
		"everything bad":    {Trends: []Trend{{Direction: TrendDeclining}}, Anomalies: many, RecentQuality: []float64{0}, QualityWindows: [][]float64{{0, 1, 0, 1}}},
		"quality above one": {RecentQuality: []float64{5, 7}, QualityWindows: [][]float64{{5, 5}}},
		"negative quality":  {RecentQuality: []float64{-3}, QualityWindows: [][]float64{{-20, 20}}},
		"nan quality":       {RecentQuality: []float64{math.NaN()}},
		"inf quality":       {RecentQuality: []float64{math.Inf(1)}},
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			b := h.Score(in)
			assert.GreaterOrEqual(t, b.Score, 0.0)
			assert.LessOrEqual(t, b.Score, 1.0)
			assert.False(t, math.IsNaN(b.Score))
		})
	}
}

func TestHealthScorerNonFiniteIsNeutral(t *testing.T) {
	h := NewHealthScorer(zaptest.NewLogger(t))

	b := h.Score(HealthInput{RecentQuality: []float64{math.NaN(), 0.9}})

	assert.Equal(t, neutralHealth, b.Score)
	assert.True(t, b.Degraded)
	assert.Equal(t, HealthDegraded, b.Status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		score float64
		want  HealthStatus
	}{
		{1.0, HealthExcellent},
		{0.9, HealthExcellent},
		{0.89, HealthGood},
		{0.8, HealthGood},
		{0.7, HealthFair},
		{0.69, HealthDegraded},
		{0.5, HealthDegraded},
		{0.49, HealthCritical},
		{0, HealthCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.score), "score=%v", tt.score)
	}
}

func TestCompare(t *testing.T) {
	byUnit := map[string][]sample.Interaction{
		"fast":  fixtures.Interactions(fixtures.Constant(10, 0.9), fixtures.Constant(10, 1.0)),
		"slow":  fixtures.Interactions(fixtures.Alternating(10, 0.6, 0.1), fixtures.Linear(10, 2, 0.5)),
		"tiny":  fixtures.Interactions(fixtures.Constant(4, 1.0), nil),
		"noisy": fixtures.Interactions(fixtures.Alternating(10, 0.85, 0.05), fixtures.Constant(10, 1.0)),
	}

	c := Compare(byUnit)

	require.Len(t, c.Rankings, 3, "units under five samples are not ranked")
	assert.Equal(t, "fast", c.Rankings[0].Unit)
	assert.Equal(t, "noisy", c.Rankings[1].Unit)
	assert.Equal(t, "slow", c.Rankings[2].Unit)
	assert.Equal(t, 3, c.Rankings[2].Rank)
	assert.Equal(t, "fast", c.BestPerformer)
	assert.Equal(t, "slow", c.WorstPerformer)
	assert.InDelta(t, 0.3, c.QualityGap, 1e-9)
	assert.Equal(t, 1.0, c.Rankings[0].LatencyConsistency)
	assert.Less(t, c.Rankings[2].LatencyConsistency, 1.0)
}

func TestCompareBreaksTiesOnConsistency(t *testing.T) {
	byUnit := map[string][]sample.Interaction{
		"jumpy":  fixtures.Interactions(fixtures.Alternating(6, 0.5, 0.25), fixtures.Constant(6, 1)),
		"steady": fixtures.Interactions(fixtures.Constant(6, 0.5), fixtures.Constant(6, 1)),
	}

	c := Compare(byUnit)

	require.Len(t, c.Rankings, 2)
	assert.Equal(t, "steady", c.BestPerformer)
	assert.Equal(t, "jumpy", c.WorstPerformer)
	assert.Zero(t, c.QualityGap)
}
