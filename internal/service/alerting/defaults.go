package alerting

import (
	"github.com/google/uuid"

	"github.com/davidleathers/performance-control-loop/internal/domain/alert"
	"github.com/davidleathers/performance-control-loop/internal/service/analytics"
	"github.com/davidleathers/performance-control-loop/internal/service/predictive"
)

// ruleNamespace keeps default rule ids stable across restarts so persisted
// cooldowns still apply to them.
var ruleNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("performance-control-loop/rules"))

func defaultRule(name string, category alert.Category, severity alert.Severity, thresholds ...alert.Threshold) *alert.Rule {
	r := alert.NewRule(name, category, severity, 0, thresholds...)
	r.ID = uuid.NewSHA1(ruleNamespace, []byte(name)).String()
	return r
}

func above(metric string, v float64) alert.Threshold {
	return alert.Threshold{Metric: metric, Value: v, Direction: alert.DirectionAbove}
}

func below(metric string, v float64) alert.Threshold {
	return alert.Threshold{Metric: metric, Value: v, Direction: alert.DirectionBelow}
}

// DefaultRules is the stock rule set, one or more per category.
func DefaultRules() []*alert.Rule {
	return []*alert.Rule{
		defaultRule("Overall performance critical", alert.CategoryPerformanceDegradation, alert.SeverityCritical,
			below(analytics.MetricOverallScore, 0.5)),
		defaultRule("Quality degraded", alert.CategoryPerformanceDegradation, alert.SeverityHigh,
			below(analytics.MetricAvgQuality, 0.6),
			above(analytics.MetricDecliningTrendRatio, 0.5)),
		defaultRule("Error rate elevated", alert.CategoryPerformanceDegradation, alert.SeverityHigh,
			above(analytics.MetricErrorRate, 0.1)),
		defaultRule("Latency elevated", alert.CategoryResourceExhaustion, alert.SeverityMedium,
			above(analytics.MetricAvgLatency, 5)),
		defaultRule("Capacity breach imminent", alert.CategoryResourceExhaustion, alert.SeverityCritical,
			below(predictive.MetricHoursToBreach, 24),
			above(predictive.MetricCapacityUtil, 0.9)),
		defaultRule("Anomaly burst", alert.CategoryAnomalyDetection, alert.SeverityHigh,
			above(analytics.MetricHighSeverityAnomaly, 2)),
		defaultRule("Critical early warning", alert.CategoryPredictiveWarning, alert.SeverityCritical,
			above(predictive.MetricCriticalWarnings, 0)),
		defaultRule("Metric drift", alert.CategoryPredictiveWarning, alert.SeverityMedium,
			above(predictive.MetricMaxDriftMagnitude, 0.3)),
		defaultRule("Unit quality gap", alert.CategoryOptimizationOpportunity, alert.SeverityLow,
			above(analytics.MetricQualityGap, 0.2)),
	}
}

var guidance = map[alert.Category][]string{
	alert.CategoryPerformanceDegradation: {
		"Review recent configuration and deployment changes",
		"Shift load toward the best performing units",
	},
	alert.CategoryResourceExhaustion: {
		"Add capacity or enable load shedding",
	},
	alert.CategoryAnomalyDetection: {
		"Inspect the flagged samples for upstream incidents",
	},
	alert.CategoryPredictiveWarning: {
		"Act before the projected impact window closes",
	},
	alert.CategoryOptimizationOpportunity: {
		"Consider an optimization cycle targeting the weakest unit",
	},
}

// recommendationsFor is the category guidance followed by the snapshot's
// priority recommendations.
func recommendationsFor(category alert.Category, priority []string) []string {
	out := append([]string(nil), guidance[category]...)
	return append(out, priority...)
}
