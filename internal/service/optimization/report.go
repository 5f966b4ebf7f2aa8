package optimization

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
	"github.com/davidleathers/performance-control-loop/internal/service/notify"
)

// MaxFocusAreas caps the next focus areas listed in a report.
const MaxFocusAreas = 5

type GatedAction struct {
	ActionID string            `json:"action_id"`
	Type     optimization.Type `json:"type"`
	Reason   string            `json:"reason"`
}

// ExecutionSummary describes a batch. Skipped lists the actions the safety
// abort kept from running.
type ExecutionSummary struct {
	Candidates int           `json:"candidates"`
	Selected   int           `json:"selected"`
	Gated      []GatedAction `json:"gated,omitempty"`
	Executed   int           `json:"executed"`
	Aborted    bool          `json:"aborted"`
	Skipped    []string      `json:"skipped,omitempty"`
}

type MetricImprovement struct {
	Metric  string  `json:"metric"`
	Count   int     `json:"count"`
	Total   float64 `json:"total"`
	Average float64 `json:"average"`
}

// Validation summarizes a batch. Only completed results count toward
// improvements.
type Validation struct {
	Total          int                 `json:"total"`
	Completed      int                 `json:"completed"`
	Failed         int                 `json:"failed"`
	Reverted       int                 `json:"reverted"`
	SuccessRate    float64             `json:"success_rate"`
	OverallSuccess bool                `json:"overall_success"`
	Improvements   []MetricImprovement `json:"improvements"`
}

// StrategyStats accumulates outcomes per strategy across cycles.
type StrategyStats struct {
	Strategy         optimization.Strategy `json:"strategy"`
	Cycles           int                   `json:"cycles"`
	Executed         int                   `json:"executed"`
	Completed        int                   `json:"completed"`
	SuccessRate      float64               `json:"success_rate"`
	TotalImprovement float64               `json:"total_improvement"`
}

type Report struct {
	GeneratedAt           time.Time              `json:"generated_at"`
	Strategy              optimization.Strategy  `json:"strategy"`
	Skipped               bool                   `json:"skipped"`
	SkipReason            string                 `json:"skip_reason,omitempty"`
	HealthScore           float64                `json:"health_score"`
	Opportunities         []Opportunity          `json:"opportunities"`
	Execution             ExecutionSummary       `json:"execution"`
	Validation            Validation             `json:"validation"`
	StrategyEffectiveness []StrategyStats        `json:"strategy_effectiveness"`
	NextFocusAreas        []string               `json:"next_focus_areas"`
	TuningChanges         []TuningChange         `json:"tuning_changes,omitempty"`
	EstimatedSavings      decimal.Decimal        `json:"estimated_savings"`
	Results               []*optimization.Result `json:"results"`
	Duration              time.Duration          `json:"duration"`
}

func validate(results []*optimization.Result, successThreshold float64) Validation {
	v := Validation{Total: len(results)}
	byMetric := make(map[string]*MetricImprovement)
	for _, r := range results {
		switch r.Status {
		case optimization.StatusCompleted:
			v.Completed++
		case optimization.StatusFailed:
			v.Failed++
			continue
		case optimization.StatusReverted:
			v.Reverted++
			continue
		}
		for metric, delta := range r.PerformanceImpact {
			m, ok := byMetric[metric]
			if !ok {
				m = &MetricImprovement{Metric: metric}
				byMetric[metric] = m
			}
			m.Count++
			m.Total += delta
		}
	}
	for _, m := range byMetric {
		m.Average = m.Total / float64(m.Count)
		v.Improvements = append(v.Improvements, *m)
	}
	sort.Slice(v.Improvements, func(i, j int) bool { return v.Improvements[i].Metric < v.Improvements[j].Metric })

	if v.Total > 0 {
		v.SuccessRate = float64(v.Completed) / float64(v.Total)
	}
	v.OverallSuccess = v.Total > 0 && v.SuccessRate >= successThreshold
	return v
}

// recordStrategy folds a batch into the running stats and returns every
// strategy seen so far. It must be called with mu held.
func (e *Engine) recordStrategy(s optimization.Strategy, v Validation) []StrategyStats {
	st, ok := e.stats[s]
	if !ok {
		st = &StrategyStats{Strategy: s}
		e.stats[s] = st
	}
	st.Cycles++
	st.Executed += v.Total
	st.Completed += v.Completed
	for _, m := range v.Improvements {
		st.TotalImprovement += m.Total
	}
	if st.Executed > 0 {
		st.SuccessRate = float64(st.Completed) / float64(st.Executed)
	}

	out := make([]StrategyStats, 0, len(e.stats))
	for _, strategy := range optimization.Strategies {
		if st, ok := e.stats[strategy]; ok {
			out = append(out, *st)
		}
	}
	return out
}

// nextFocusAreas lists high priority opportunities that no completed action
// addressed, then action types that have failed before, most failures
// first. It must be called with mu held.
func (e *Engine) nextFocusAreas(opps []Opportunity, results []*optimization.Result) []string {
	resolved := make(map[optimization.Type]bool)
	for _, r := range results {
		if r.Succeeded() {
			resolved[r.ActionType] = true
		}
	}

	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] && len(out) < MaxFocusAreas {
			seen[s] = true
			out = append(out, s)
		}
	}

	sorted := append([]Opportunity(nil), opps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	for _, o := range sorted {
		if o.Priority < priorityHigh || resolved[o.Type] {
			continue
		}
		add(fmt.Sprintf("%s: %s", o.Type, o.Reason))
	}

	failed := make([]optimization.Type, 0, len(e.failedTypes))
	for t := range e.failedTypes {
		failed = append(failed, t)
	}
	sort.Slice(failed, func(i, j int) bool {
		if e.failedTypes[failed[i]] != e.failedTypes[failed[j]] {
			return e.failedTypes[failed[i]] > e.failedTypes[failed[j]]
		}
		return failed[i] < failed[j]
	})
	for _, t := range failed {
		add(fmt.Sprintf("%s: failed %d time(s), investigate before retrying", t, e.failedTypes[t]))
	}
	return out
}

// estimatedSavings is the negated cost impact of the actions that ended
// completed. Positive values are savings.
func estimatedSavings(batch []*optimization.Action) decimal.Decimal {
	total := decimal.Zero
	for _, a := range batch {
		if a.Status == optimization.StatusCompleted {
			total = total.Sub(a.CostImpact)
		}
	}
	return total
}

// Content is the prose form of a report used for summary notifications.
func (r *Report) Content() string {
	if r.Skipped {
		return fmt.Sprintf("Optimization cycle skipped (%s): %s", r.Strategy, r.SkipReason)
	}
	s := fmt.Sprintf("Optimization cycle (%s): %d executed, %d completed, %d failed, %d reverted; success rate %.0f%%",
		r.Strategy, r.Validation.Total, r.Validation.Completed, r.Validation.Failed, r.Validation.Reverted, r.Validation.SuccessRate*100)
	if r.Execution.Aborted {
		s += fmt.Sprintf("; batch aborted, %d action(s) skipped", len(r.Execution.Skipped))
	}
	if !r.EstimatedSavings.IsZero() {
		s += fmt.Sprintf("; estimated savings %s", r.EstimatedSavings.StringFixed(2))
	}
	for _, f := range r.NextFocusAreas {
		s += "\n- " + f
	}
	return s
}

func (e *Engine) publish(ctx context.Context, r *Report) {
	metrics := map[string]float64{
		"health_score":   r.HealthScore,
		"success_rate":   r.Validation.SuccessRate,
		"actions_total":  float64(r.Validation.Total),
		"actions_failed": float64(r.Validation.Failed),
	}
	for _, m := range r.Validation.Improvements {
		metrics["improvement."+m.Metric] = m.Average
	}
	severity := "info"
	if r.Execution.Aborted || (r.Validation.Total > 0 && !r.Validation.OverallSuccess) {
		severity = "high"
	}

	err := e.sink.Send(ctx, notify.Payload{
		Kind:       notify.KindSummary,
		Severity:   severity,
		Content:    r.Content(),
		Metrics:    metrics,
		Thresholds: map[string]float64{"success_rate": e.cfg.SuccessThreshold, "safety_threshold": -e.cfg.SafetyThreshold},
		Timestamp:  r.GeneratedAt,
	})
	e.recorder.NotificationSent(string(notify.KindSummary), err)
	if err != nil {
		e.logger.Error("optimization summary delivery failed", zap.Error(err))
	}
}
