package analytics

import (
	"time"
)

type TrendDirection int

const (
	TrendStable TrendDirection = iota
	TrendImproving
	TrendDeclining
)

func (d TrendDirection) String() string {
	switch d {
	case TrendImproving:
		return "improving"
	case TrendDeclining:
		return "declining"
	default:
		return "stable"
	}
}

func (d TrendDirection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Polarity says whether larger values of a metric are good or bad.
type Polarity int

const (
	HigherIsBetter Polarity = iota
	LowerIsBetter
)

// Trend is the fitted direction of one metric over the analysis window.
type Trend struct {
	Metric       string         `json:"metric"`
	Unit         string         `json:"unit,omitempty"`
	Direction    TrendDirection `json:"direction"`
	ChangeRate   float64        `json:"change_rate"`
	Confidence   float64        `json:"confidence"`
	ForecastNext float64        `json:"forecast_next"`
	Stability    float64        `json:"stability"`
	Samples      int            `json:"samples"`
}

type AnomalySeverity int

const (
	AnomalyLow AnomalySeverity = iota
	AnomalyMedium
	AnomalyHigh
	AnomalyCritical
)

func (s AnomalySeverity) String() string {
	switch s {
	case AnomalyMedium:
		return "medium"
	case AnomalyHigh:
		return "high"
	case AnomalyCritical:
		return "critical"
	default:
		return "low"
	}
}

func (s AnomalySeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type AnomalyType int

const (
	AnomalySpike AnomalyType = iota
	AnomalyDrop
	AnomalyDrift
	AnomalyOutlier
)

func (t AnomalyType) String() string {
	switch t {
	case AnomalySpike:
		return "spike"
	case AnomalyDrop:
		return "drop"
	case AnomalyDrift:
		return "drift"
	case AnomalyOutlier:
		return "outlier"
	default:
		return "unknown"
	}
}

func (t AnomalyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

type Anomaly struct {
	Timestamp time.Time         `json:"timestamp"`
	Index     int               `json:"index"`
	Metric    string            `json:"metric"`
	Expected  float64           `json:"expected"`
	Actual    float64           `json:"actual"`
	ZScore    float64           `json:"z_score"`
	Severity  AnomalySeverity   `json:"severity"`
	Type      AnomalyType       `json:"type"`
	Context   map[string]string `json:"context,omitempty"`
}

// Interval is a closed prediction interval.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

type Forecast struct {
	Metric              string     `json:"metric"`
	Unit                string     `json:"unit,omitempty"`
	Horizon             int        `json:"horizon"`
	PredictedValues     []float64  `json:"predicted_values"`
	ConfidenceIntervals []Interval `json:"confidence_intervals"`
	Accuracy            float64    `json:"accuracy"`
	ModelType           string     `json:"model_type"`
}

type HealthStatus int

const (
	HealthCritical HealthStatus = iota
	HealthDegraded
	HealthFair
	HealthGood
	HealthExcellent
)

func (h HealthStatus) String() string {
	switch h {
	case HealthExcellent:
		return "excellent"
	case HealthGood:
		return "good"
	case HealthFair:
		return "fair"
	case HealthDegraded:
		return "degraded"
	default:
		return "critical"
	}
}

func (h HealthStatus) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// HealthBreakdown keeps the weighted components next to the final score.
type HealthBreakdown struct {
	Score             float64      `json:"score"`
	Status            HealthStatus `json:"status"`
	TrendHealth       float64      `json:"trend_health"`
	AnomalyHealth     float64      `json:"anomaly_health"`
	PerformanceHealth float64      `json:"performance_health"`
	StabilityHealth   float64      `json:"stability_health"`
	Degraded          bool         `json:"degraded,omitempty"`
}

// UnitRanking is one unit's standing in the comparative analysis.
type UnitRanking struct {
	Unit               string  `json:"unit"`
	Samples            int     `json:"samples"`
	AvgQuality         float64 `json:"avg_quality"`
	Consistency        float64 `json:"consistency"`
	AvgLatency         float64 `json:"avg_latency"`
	LatencyConsistency float64 `json:"latency_consistency"`
	Rank               int     `json:"rank"`
}

type Comparison struct {
	Rankings       []UnitRanking `json:"rankings"`
	BestPerformer  string        `json:"best_performer,omitempty"`
	WorstPerformer string        `json:"worst_performer,omitempty"`
	QualityGap     float64       `json:"quality_gap"`
}

type Priority int

const (
	PriorityMedium Priority = iota
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	default:
		return "medium"
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Focus areas used to route recommendations to optimization actions.
const (
	FocusQuality     = "quality"
	FocusLatency     = "latency"
	FocusReliability = "reliability"
	FocusHealth      = "health"
	FocusStability   = "stability"
)

type Recommendation struct {
	Priority Priority `json:"priority"`
	Focus    string   `json:"focus"`
	Unit     string   `json:"unit,omitempty"`
	Metric   string   `json:"metric"`
	Message  string   `json:"message"`
}

// UnitReport is the per-unit slice of a snapshot.
type UnitReport struct {
	Unit       string          `json:"unit"`
	Samples    int             `json:"samples"`
	AvgQuality float64         `json:"avg_quality"`
	AvgLatency float64         `json:"avg_latency"`
	ErrorRate  float64         `json:"error_rate"`
	Trends     []Trend         `json:"trends"`
	Anomalies  []Anomaly       `json:"anomalies"`
	Forecasts  []Forecast      `json:"forecasts"`
	Health     HealthBreakdown `json:"health"`
}

// Snapshot is the result of one analytics pass across all units.
type Snapshot struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	Units           []UnitReport     `json:"units"`
	Health          HealthBreakdown  `json:"health"`
	Comparison      Comparison       `json:"comparison"`
	Recommendations []Recommendation `json:"recommendations"`
	SkippedUnits    []string         `json:"skipped_units,omitempty"`
}

// Metric names published to alert rules.
const (
	MetricOverallScore        = "overall_performance_score"
	MetricAvgQuality          = "avg_quality"
	MetricAvgLatency          = "avg_latency"
	MetricErrorRate           = "error_rate"
	MetricAnomalyCount        = "anomaly_count"
	MetricHighSeverityAnomaly = "high_severity_anomalies"
	MetricDecliningTrendRatio = "declining_trend_ratio"
	MetricUnitCount           = "unit_count"
	MetricMinUnitHealth       = "min_unit_health"
	MetricQualityGap          = "quality_gap"
)

// MetricValues flattens the snapshot into named values for rule evaluation.
func (s *Snapshot) MetricValues() map[string]float64 {
	values := map[string]float64{
		MetricOverallScore: s.Health.Score,
		MetricUnitCount:    float64(len(s.Units)),
		MetricQualityGap:   s.Comparison.QualityGap,
	}
	if len(s.Units) == 0 {
		return values
	}

	var quality, latency, errRate float64
	var samples, anomalies, severe, trends, declining int
	minHealth := 1.0
	for _, u := range s.Units {
		w := float64(u.Samples)
		quality += u.AvgQuality * w
		latency += u.AvgLatency * w
		errRate += u.ErrorRate * w
		samples += u.Samples
		anomalies += len(u.Anomalies)
		for _, a := range u.Anomalies {
			if a.Severity >= AnomalyHigh {
				severe++
			}
		}
		for _, t := range u.Trends {
			trends++
			if t.Direction == TrendDeclining {
				declining++
			}
		}
		if u.Health.Score < minHealth {
			minHealth = u.Health.Score
		}
	}
	if samples > 0 {
		values[MetricAvgQuality] = quality / float64(samples)
		values[MetricAvgLatency] = latency / float64(samples)
		values[MetricErrorRate] = errRate / float64(samples)
	}
	values[MetricAnomalyCount] = float64(anomalies)
	values[MetricHighSeverityAnomaly] = float64(severe)
	if trends > 0 {
		values[MetricDecliningTrendRatio] = float64(declining) / float64(trends)
	}
	values[MetricMinUnitHealth] = minHealth
	return values
}

// PriorityRecommendations returns up to n messages, highest priority first.
func (s *Snapshot) PriorityRecommendations(n int) []string {
	out := make([]string, 0, n)
	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityMedium} {
		for _, r := range s.Recommendations {
			if len(out) == n {
				return out
			}
			if r.Priority == p {
				out = append(out, r.Message)
			}
		}
	}
	return out
}
