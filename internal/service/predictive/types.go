package predictive

import (
	"time"

	"github.com/davidleathers/performance-control-loop/internal/service/analytics"
)

type WarningSeverity int

const (
	SeverityInfo WarningSeverity = iota
	SeverityWarning
	SeverityUrgent
	SeverityCritical
)

func (s WarningSeverity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityUrgent:
		return "urgent"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

func (s WarningSeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Warning types.
const (
	WarningQualityDecline  = "quality_decline"
	WarningLatencyIncrease = "latency_increase"
	WarningLoadImbalance   = "load_imbalance"
)

type EarlyWarning struct {
	Severity           WarningSeverity `json:"severity"`
	AlertType          string          `json:"alert_type"`
	Metric             string          `json:"metric"`
	Unit               string          `json:"unit,omitempty"`
	ChangeRatio        float64         `json:"change_ratio"`
	TimeToImpact       time.Duration   `json:"time_to_impact"`
	Confidence         float64         `json:"confidence"`
	RecommendedActions []string        `json:"recommended_actions"`
}

type CapacityForecast struct {
	ResourceType  string        `json:"resource_type"`
	CurrentUtil   float64       `json:"current_util"`
	PredictedUtil []float64     `json:"predicted_util"`
	Threshold     float64       `json:"threshold"`
	BreachTime    *time.Time    `json:"breach_time,omitempty"`
	ScalingRecs   []string      `json:"scaling_recs,omitempty"`
	Period        time.Duration `json:"period"`
}

type DriftAlert struct {
	ModelName    string  `json:"model_name"`
	DriftType    string  `json:"drift_type"`
	Magnitude    float64 `json:"magnitude"`
	Statistic    float64 `json:"statistic"`
	PValue       float64 `json:"p_value"`
	BaselinePerf float64 `json:"baseline_perf"`
	CurrentPerf  float64 `json:"current_perf"`
}

type ConfidenceLevel int

const (
	ConfidenceLow ConfidenceLevel = iota
	ConfidenceMedium
	ConfidenceHigh
	ConfidenceVeryHigh
)

func (c ConfidenceLevel) String() string {
	switch c {
	case ConfidenceVeryHigh:
		return "very_high"
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	default:
		return "low"
	}
}

func (c ConfidenceLevel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Weight is the contribution of a prediction at this level to the
// reliability score.
func (c ConfidenceLevel) Weight() float64 {
	switch c {
	case ConfidenceVeryHigh:
		return 1.0
	case ConfidenceHigh:
		return 0.8
	case ConfidenceMedium:
		return 0.6
	default:
		return 0.3
	}
}

type Prediction struct {
	Metric     string               `json:"metric"`
	Samples    int                  `json:"samples"`
	Current    float64              `json:"current"`
	Predicted  []float64            `json:"predicted"`
	Intervals  []analytics.Interval `json:"intervals"`
	Accuracy   float64              `json:"accuracy"`
	Confidence ConfidenceLevel      `json:"confidence"`
}

type Timeline int

const (
	TimelineImmediate Timeline = iota
	TimelineWithinWeek
	TimelineWithinMonth
)

func (t Timeline) String() string {
	switch t {
	case TimelineImmediate:
		return "immediate"
	case TimelineWithinWeek:
		return "within_week"
	default:
		return "within_month"
	}
}

func (t Timeline) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

type Recommendation struct {
	Timeline Timeline `json:"timeline"`
	Source   string   `json:"source"`
	Metric   string   `json:"metric,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Score    float64  `json:"score"`
	Message  string   `json:"message"`
	Actions  []string `json:"actions,omitempty"`
}

// Insights is the output of one predictive pass.
type Insights struct {
	GeneratedAt       time.Time          `json:"generated_at"`
	Predictions       []Prediction       `json:"predictions"`
	EarlyWarnings     []EarlyWarning     `json:"early_warnings"`
	CapacityForecasts []CapacityForecast `json:"capacity_forecasts"`
	DriftAlerts       []DriftAlert       `json:"drift_alerts"`
	ReliabilityScore  float64            `json:"reliability_score"`
	Recommendations   []Recommendation   `json:"recommendations"`
}

// Metric names published to alert rules.
const (
	MetricCriticalWarnings  = "predictive_critical_warnings"
	MetricUrgentWarnings    = "predictive_urgent_warnings"
	MetricWarningCount      = "predictive_warning_count"
	MetricReliabilityScore  = "prediction_reliability_score"
	MetricMaxDriftMagnitude = "max_drift_magnitude"
	MetricDriftedMetrics    = "drifted_metrics"
	MetricCapacityUtil      = "capacity_utilization"
	MetricHoursToBreach     = "hours_to_capacity_breach"
)

// MetricValues flattens the insights for rule evaluation. Hours to breach is
// only present when a breach is projected.
func (in *Insights) MetricValues() map[string]float64 {
	values := map[string]float64{
		MetricWarningCount:     float64(len(in.EarlyWarnings)),
		MetricReliabilityScore: in.ReliabilityScore,
		MetricDriftedMetrics:   float64(len(in.DriftAlerts)),
	}
	var critical, urgent int
	for _, w := range in.EarlyWarnings {
		switch w.Severity {
		case SeverityCritical:
			critical++
		case SeverityUrgent:
			urgent++
		}
	}
	values[MetricCriticalWarnings] = float64(critical)
	values[MetricUrgentWarnings] = float64(urgent)

	maxDrift := 0.0
	for _, d := range in.DriftAlerts {
		if d.Magnitude > maxDrift {
			maxDrift = d.Magnitude
		}
	}
	values[MetricMaxDriftMagnitude] = maxDrift

	for _, c := range in.CapacityForecasts {
		if c.CurrentUtil > values[MetricCapacityUtil] {
			values[MetricCapacityUtil] = c.CurrentUtil
		}
		if c.BreachTime != nil {
			hours := c.BreachTime.Sub(in.GeneratedAt).Hours()
			if cur, ok := values[MetricHoursToBreach]; !ok || hours < cur {
				values[MetricHoursToBreach] = hours
			}
		}
	}
	return values
}
