package optimization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
	"github.com/davidleathers/performance-control-loop/internal/service/aggregator"
	"github.com/davidleathers/performance-control-loop/internal/service/analytics"
	"github.com/davidleathers/performance-control-loop/internal/service/predictive"
)

// Opportunity priorities.
const (
	priorityMedium = 1
	priorityHigh   = 2
	priorityCrit   = 3
)

// Health below which a recovery opportunity is raised.
const recoveryHealthBelow = 0.7

// driftOpportunityAbove is the drift magnitude that warrants recalibration.
const driftOpportunityAbove = 0.5

// Opportunity is a finding that one action could address.
type Opportunity struct {
	Source   string            `json:"source"`
	Type     optimization.Type `json:"type"`
	Unit     string            `json:"unit,omitempty"`
	Priority int               `json:"priority"`
	Reason   string            `json:"reason"`
}

// template is the per-type shape of a synthesized action. Expected
// improvement is a percentage before the priority multiplier.
type template struct {
	metric   string
	expected float64
	risk     optimization.Risk
	tags     []optimization.Tag
	rollback string
	cost     decimal.Decimal
}

var templates = map[optimization.Type]template{
	optimization.TypeQualityImprovement: {
		metric:   analytics.MetricAvgQuality,
		expected: 8,
		risk:     optimization.RiskMedium,
		tags:     []optimization.Tag{optimization.TagPerformance, optimization.TagReliability, optimization.TagGeneral},
		rollback: "Restore the previous routing weights and model settings",
		cost:     decimal.RequireFromString("0"),
	},
	optimization.TypeLatencyReduction: {
		metric:   analytics.MetricAvgLatency,
		expected: 15,
		risk:     optimization.RiskMedium,
		tags:     []optimization.Tag{optimization.TagPerformance, optimization.TagGeneral},
		rollback: "Revert timeout and concurrency limits to their prior values",
		cost:     decimal.RequireFromString("40.00"),
	},
	optimization.TypeErrorReduction: {
		metric:   analytics.MetricErrorRate,
		expected: 20,
		risk:     optimization.RiskLow,
		tags:     []optimization.Tag{optimization.TagReliability, optimization.TagHealth, optimization.TagCost, optimization.TagGeneral},
		rollback: "Disable the added retry and validation policies",
		cost:     decimal.RequireFromString("-20.00"),
	},
	optimization.TypeCapacityScaling: {
		metric:   predictive.MetricCapacityUtil,
		expected: 25,
		risk:     optimization.RiskHigh,
		tags:     []optimization.Tag{optimization.TagPerformance, optimization.TagPrevention},
		rollback: "Scale back to the previous unit count",
		cost:     decimal.RequireFromString("250.00"),
	},
	optimization.TypeLoadRebalancing: {
		metric:   analytics.MetricAvgLatency,
		expected: 10,
		risk:     optimization.RiskLow,
		tags:     []optimization.Tag{optimization.TagPerformance, optimization.TagCost, optimization.TagPrevention, optimization.TagGeneral},
		rollback: "Restore the previous load distribution",
		cost:     decimal.RequireFromString("-60.00"),
	},
	optimization.TypeHealthRecovery: {
		metric:   analytics.MetricOverallScore,
		expected: 12,
		risk:     optimization.RiskMedium,
		tags:     []optimization.Tag{optimization.TagHealth, optimization.TagReliability},
		rollback: "Return drained units to service",
		cost:     decimal.RequireFromString("10.00"),
	},
	optimization.TypeDriftRecalibration: {
		metric:   predictive.MetricMaxDriftMagnitude,
		expected: 5,
		risk:     optimization.RiskLow,
		tags:     []optimization.Tag{optimization.TagPrevention, optimization.TagCost, optimization.TagGeneral},
		rollback: "Restore the previous baselines",
		cost:     decimal.RequireFromString("-15.00"),
	},
}

var priorityMultiplier = map[int]float64{
	priorityMedium: 1.0,
	priorityHigh:   1.2,
	priorityCrit:   1.5,
}

// extractOpportunities reads both halves of a snapshot. Duplicates of the
// same type and unit collapse into the highest priority one.
func extractOpportunities(snap *aggregator.Snapshot) []Opportunity {
	var opps []Opportunity

	if as := snap.Analytics; as != nil {
		for _, r := range as.Recommendations {
			t, ok := focusType(r.Focus)
			if !ok {
				continue
			}
			opps = append(opps, Opportunity{
				Source:   aggregator.SourceAnalytics,
				Type:     t,
				Unit:     r.Unit,
				Priority: analyticsPriority(r.Priority),
				Reason:   r.Message,
			})
		}
		if score := as.Health.Score; score < recoveryHealthBelow {
			p := priorityHigh
			if score < 0.5 {
				p = priorityCrit
			}
			opps = append(opps, Opportunity{
				Source:   aggregator.SourceAnalytics,
				Type:     optimization.TypeHealthRecovery,
				Priority: p,
				Reason:   fmt.Sprintf("overall health %.2f is below %.2f", score, recoveryHealthBelow),
			})
		}
	}

	if ps := snap.Predictive; ps != nil {
		for _, w := range ps.EarlyWarnings {
			if w.Severity < predictive.SeverityUrgent {
				continue
			}
			t, ok := warningType(w.AlertType)
			if !ok {
				continue
			}
			p := priorityHigh
			if w.Severity == predictive.SeverityCritical {
				p = priorityCrit
			}
			opps = append(opps, Opportunity{
				Source:   aggregator.SourcePredictive,
				Type:     t,
				Unit:     w.Unit,
				Priority: p,
				Reason:   fmt.Sprintf("%s %s (%.0f%% change)", w.Severity, w.AlertType, w.ChangeRatio*100),
			})
		}
		for _, c := range ps.CapacityForecasts {
			if c.BreachTime == nil {
				continue
			}
			opps = append(opps, Opportunity{
				Source:   aggregator.SourcePredictive,
				Type:     optimization.TypeCapacityScaling,
				Priority: priorityHigh,
				Reason:   fmt.Sprintf("%s projected to breach %.0f at %s", c.ResourceType, c.Threshold, c.BreachTime.Format("2006-01-02 15:04")),
			})
		}
		for _, d := range ps.DriftAlerts {
			if d.Magnitude <= driftOpportunityAbove {
				continue
			}
			_, unit := splitUnit(d.ModelName)
			opps = append(opps, Opportunity{
				Source:   aggregator.SourcePredictive,
				Type:     optimization.TypeDriftRecalibration,
				Unit:     unit,
				Priority: priorityMedium,
				Reason:   fmt.Sprintf("%s drifted by %.2f", d.ModelName, d.Magnitude),
			})
		}
	}

	return dedupe(opps)
}

func dedupe(opps []Opportunity) []Opportunity {
	type key struct {
		t    optimization.Type
		unit string
	}
	best := make(map[key]int)
	var out []Opportunity
	for _, o := range opps {
		k := key{o.Type, o.Unit}
		if i, ok := best[k]; ok {
			if o.Priority > out[i].Priority {
				out[i] = o
			}
			continue
		}
		best[k] = len(out)
		out = append(out, o)
	}
	return out
}

// synthesize builds one pending action per opportunity.
func synthesize(opps []Opportunity) []*optimization.Action {
	actions := make([]*optimization.Action, 0, len(opps))
	for _, o := range opps {
		tpl, ok := templates[o.Type]
		if !ok {
			continue
		}
		a := optimization.NewAction(o.Type, tpl.metric, tpl.expected*priorityMultiplier[o.Priority], tpl.risk, tpl.tags...)
		a.Unit = o.Unit
		a.Priority = o.Priority
		a.Reason = o.Reason
		a.RollbackPlan = tpl.rollback
		a.CostImpact = tpl.cost
		actions = append(actions, a)
	}
	return actions
}

// sortActions orders by risk (lowest first), then expected improvement and
// priority, both descending.
func sortActions(actions []*optimization.Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if a.Risk != b.Risk {
			return a.Risk < b.Risk
		}
		if a.ExpectedImprovement != b.ExpectedImprovement {
			return a.ExpectedImprovement > b.ExpectedImprovement
		}
		return a.Priority > b.Priority
	})
}

func focusType(focus string) (optimization.Type, bool) {
	switch focus {
	case analytics.FocusQuality:
		return optimization.TypeQualityImprovement, true
	case analytics.FocusLatency:
		return optimization.TypeLatencyReduction, true
	case analytics.FocusReliability:
		return optimization.TypeErrorReduction, true
	case analytics.FocusHealth, analytics.FocusStability:
		return optimization.TypeHealthRecovery, true
	}
	return 0, false
}

func warningType(alertType string) (optimization.Type, bool) {
	switch alertType {
	case predictive.WarningQualityDecline:
		return optimization.TypeQualityImprovement, true
	case predictive.WarningLatencyIncrease:
		return optimization.TypeLatencyReduction, true
	case predictive.WarningLoadImbalance:
		return optimization.TypeLoadRebalancing, true
	}
	return 0, false
}

func analyticsPriority(p analytics.Priority) int {
	switch p {
	case analytics.PriorityCritical:
		return priorityCrit
	case analytics.PriorityHigh:
		return priorityHigh
	default:
		return priorityMedium
	}
}

// splitUnit undoes the predictive per-unit series key "metric/unit".
func splitUnit(key string) (metric, unit string) {
	metric, unit, _ = strings.Cut(key, "/")
	return metric, unit
}
