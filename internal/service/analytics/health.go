package analytics

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

// Weights and fallbacks for the composite health score.
const (
	weightTrend       = 0.30
	weightAnomaly     = 0.25
	weightPerformance = 0.25
	weightStability   = 0.20

	fallbackPerformance = 0.75
	fallbackStability   = 0.8
	neutralHealth       = 0.5

	severeAnomalyBudget = 10.0
	minComparedSamples  = 5
)

// HealthInput is everything the scorer looks at. Empty fields take the
// documented fallbacks.
type HealthInput struct {
	Trends         []Trend
	Anomalies      []Anomaly
	RecentQuality  []float64
	QualityWindows [][]float64
}

type HealthScorer struct {
	logger *zap.Logger
}

func NewHealthScorer(logger *zap.Logger) *HealthScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthScorer{logger: logger}
}

// Score blends the four components and clamps to [0,1]. A non-finite result
// is logged and replaced with a neutral 0.5.
func (h *HealthScorer) Score(in HealthInput) HealthBreakdown {
	b := HealthBreakdown{
		TrendHealth:       trendHealth(in.Trends),
		AnomalyHealth:     anomalyHealth(in.Anomalies),
		PerformanceHealth: fallbackPerformance,
		StabilityHealth:   fallbackStability,
	}
	if len(in.RecentQuality) > 0 {
		b.PerformanceHealth = mean(in.RecentQuality)
	}
	if s, ok := windowStability(in.QualityWindows); ok {
		b.StabilityHealth = s
	}

	score := weightTrend*b.TrendHealth +
		weightAnomaly*b.AnomalyHealth +
		weightPerformance*b.PerformanceHealth +
		weightStability*b.StabilityHealth

	if math.IsNaN(score) || math.IsInf(score, 0) {
		err := errors.NewComputationError("health_scorer", "non-finite composite score")
		h.logger.Warn("health score fell back to neutral", zap.Error(err))
		score = neutralHealth
		b.Degraded = true
	}
	b.Score = clamp01(score)
	b.Status = StatusFor(b.Score)
	return b
}

// StatusFor buckets a score.
func StatusFor(score float64) HealthStatus {
	switch {
	case score >= 0.9:
		return HealthExcellent
	case score >= 0.8:
		return HealthGood
	case score >= 0.7:
		return HealthFair
	case score >= 0.5:
		return HealthDegraded
	default:
		return HealthCritical
	}
}

func trendHealth(trends []Trend) float64 {
	if len(trends) == 0 {
		return 1
	}
	declining := 0
	for _, t := range trends {
		if t.Direction == TrendDeclining {
			declining++
		}
	}
	return 1 - float64(declining)/float64(len(trends))
}

func anomalyHealth(anomalies []Anomaly) float64 {
	severe := 0
	for _, a := range anomalies {
		if a.Severity >= AnomalyHigh {
			severe++
		}
	}
	return math.Max(0, 1-float64(severe)/severeAnomalyBudget)
}

func windowStability(windows [][]float64) (float64, bool) {
	var sum float64
	var n int
	for _, w := range windows {
		if len(w) < 2 {
			continue
		}
		sum += 1 - variance(w)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Compare ranks units that have at least five recent interactions by average
// quality, then consistency, then latency.
func Compare(byUnit map[string][]sample.Interaction) Comparison {
	var rankings []UnitRanking
	for unit, in := range byUnit {
		if len(in) < minComparedSamples {
			continue
		}
		q, qsd := meanStdDev(sample.Qualities(in))
		l, lsd := meanStdDev(sample.Latencies(in))
		latencyConsistency := 1.0
		if l > 0 {
			latencyConsistency = 1 / (1 + lsd/l)
		}
		rankings = append(rankings, UnitRanking{
			Unit:               unit,
			Samples:            len(in),
			AvgQuality:         q,
			Consistency:        clamp01(1 - qsd),
			AvgLatency:         l,
			LatencyConsistency: latencyConsistency,
		})
	}

	sort.Slice(rankings, func(i, j int) bool {
		a, b := rankings[i], rankings[j]
		if a.AvgQuality != b.AvgQuality {
			return a.AvgQuality > b.AvgQuality
		}
		if a.Consistency != b.Consistency {
			return a.Consistency > b.Consistency
		}
		if a.AvgLatency != b.AvgLatency {
			return a.AvgLatency < b.AvgLatency
		}
		return a.Unit < b.Unit
	})

	c := Comparison{Rankings: rankings}
	for i := range c.Rankings {
		c.Rankings[i].Rank = i + 1
	}
	if len(rankings) > 0 {
		best, worst := rankings[0], rankings[len(rankings)-1]
		c.BestPerformer = best.Unit
		c.WorstPerformer = worst.Unit
		c.QualityGap = best.AvgQuality - worst.AvgQuality
	}
	return c
}
