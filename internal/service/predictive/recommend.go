package predictive

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// recommend merges warnings, capacity and drift findings into one list,
// ordered by timeline then score.
func recommend(in *Insights, now time.Time) []Recommendation {
	var recs []Recommendation

	for _, w := range in.EarlyWarnings {
		timeline := TimelineWithinWeek
		if w.Severity >= SeverityUrgent {
			timeline = TimelineImmediate
		}
		target := w.Metric
		if w.Unit != "" {
			target = fmt.Sprintf("%s on %s", w.Metric, w.Unit)
		}
		recs = append(recs, Recommendation{
			Timeline: timeline,
			Source:   "early_warning",
			Metric:   w.Metric,
			Unit:     w.Unit,
			Score:    float64(w.Severity) + w.Confidence,
			Message:  fmt.Sprintf("%s %s: %s (%.0f%% change)", w.Severity, strings.ReplaceAll(w.AlertType, "_", " "), target, w.ChangeRatio*100),
			Actions:  w.RecommendedActions,
		})
	}

	for _, c := range in.CapacityForecasts {
		if c.BreachTime == nil {
			continue
		}
		until := c.BreachTime.Sub(now)
		timeline := TimelineWithinMonth
		switch {
		case until <= 24*time.Hour:
			timeline = TimelineImmediate
		case until <= scalingWindow:
			timeline = TimelineWithinWeek
		}
		recs = append(recs, Recommendation{
			Timeline: timeline,
			Source:   "capacity",
			Metric:   c.ResourceType,
			Score:    float64(SeverityCritical) + 1 - clamp01(until.Hours()/scalingWindow.Hours()),
			Message:  fmt.Sprintf("%s projected to exceed %.0f in %s", c.ResourceType, c.Threshold, until.Round(time.Minute)),
			Actions:  c.ScalingRecs,
		})
	}

	for _, d := range in.DriftAlerts {
		timeline := TimelineWithinMonth
		if d.Magnitude > 0.5 {
			timeline = TimelineWithinWeek
		}
		recs = append(recs, Recommendation{
			Timeline: timeline,
			Source:   "drift",
			Metric:   d.ModelName,
			Score:    d.Magnitude,
			Message:  fmt.Sprintf("%s on %s: %.2f -> %.2f", strings.ReplaceAll(d.DriftType, "_", " "), d.ModelName, d.BaselinePerf, d.CurrentPerf),
			Actions:  []string{"Re-baseline thresholds that depend on " + d.ModelName},
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Timeline != recs[j].Timeline {
			return recs[i].Timeline < recs[j].Timeline
		}
		return recs[i].Score > recs[j].Score
	})
	return recs
}
