package alerting

import (
	"sort"
	"time"
)

const topViolatedMetrics = 5

type MetricCount struct {
	Metric string `json:"metric"`
	Count  int    `json:"count"`
}

// Summary describes the retained alert history and the rule registry.
type Summary struct {
	TotalAlerts   int            `json:"total_alerts"`
	BySeverity    map[string]int `json:"by_severity"`
	ByCategory    map[string]int `json:"by_category"`
	TopMetrics    []MetricCount  `json:"top_violated_metrics"`
	ActiveRules   int            `json:"active_rules"`
	CooldownRules int            `json:"cooldown_rules"`
	DisabledRules int            `json:"disabled_rules"`
	LastAlertAt   *time.Time     `json:"last_alert_at,omitempty"`
}

func (e *Engine) Summary() *Summary {
	now := e.now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	s := &Summary{
		TotalAlerts: len(e.history),
		BySeverity:  make(map[string]int),
		ByCategory:  make(map[string]int),
	}

	counts := make(map[string]int)
	for _, a := range e.history {
		s.BySeverity[a.Severity.String()]++
		s.ByCategory[a.Category.String()]++
		for _, v := range a.Violations {
			counts[v.Metric]++
		}
	}
	if n := len(e.history); n > 0 {
		t := e.history[n-1].Timestamp
		s.LastAlertAt = &t
	}

	for m, c := range counts {
		s.TopMetrics = append(s.TopMetrics, MetricCount{Metric: m, Count: c})
	}
	sort.Slice(s.TopMetrics, func(i, j int) bool {
		if s.TopMetrics[i].Count != s.TopMetrics[j].Count {
			return s.TopMetrics[i].Count > s.TopMetrics[j].Count
		}
		return s.TopMetrics[i].Metric < s.TopMetrics[j].Metric
	})
	if len(s.TopMetrics) > topViolatedMetrics {
		s.TopMetrics = s.TopMetrics[:topViolatedMetrics]
	}

	for _, r := range e.rules {
		switch {
		case !r.Enabled:
			s.DisabledRules++
		case r.InCooldown(now):
			s.CooldownRules++
		default:
			s.ActiveRules++
		}
	}
	return s
}
