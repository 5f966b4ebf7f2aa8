// Package report renders already computed snapshots and optimization reports
// as JSON or prose. It never recomputes anything.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/service/aggregator"
	"github.com/davidleathers/performance-control-loop/internal/service/analytics"
	"github.com/davidleathers/performance-control-loop/internal/service/optimization"
	"github.com/davidleathers/performance-control-loop/internal/service/predictive"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatText:
		return FormatText, nil
	}
	return "", errors.NewValidationError("INVALID_FORMAT", fmt.Sprintf("unsupported report format %q", s))
}

// ContentType is the HTTP media type of a format.
func (f Format) ContentType() string {
	if f == FormatText {
		return "text/plain; charset=utf-8"
	}
	return "application/json"
}

// Snapshot writes snap in the requested format.
func Snapshot(w io.Writer, f Format, snap *aggregator.Snapshot) error {
	if f == FormatText {
		return snapshotText(w, snap)
	}
	return JSON(w, snap)
}

// Optimization writes an optimization report in the requested format.
func Optimization(w io.Writer, f Format, r *optimization.Report) error {
	if f == FormatText {
		return optimizationText(w, r)
	}
	return JSON(w, r)
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printer keeps the first write error so rendering code can stay linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) f(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) ln(format string, args ...any) {
	p.f(format+"\n", args...)
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func floats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%.3f", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func intervals(xs []analytics.Interval) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%.3f..%.3f", x.Lower, x.Upper)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func snapshotText(w io.Writer, snap *aggregator.Snapshot) error {
	p := &printer{w: w}
	p.ln("Performance snapshot generated %s", stamp(snap.GeneratedAt))
	for _, e := range snap.Errors {
		p.ln("ERROR [%s]: %s", e.Source, e.Message)
	}
	if snap.Analytics != nil {
		analyticsText(p, snap.Analytics)
	} else {
		p.ln("\nAnalytics: unavailable")
	}
	if snap.Predictive != nil {
		predictiveText(p, snap.Predictive)
	} else {
		p.ln("\nPredictive insights: unavailable")
	}
	return p.err
}

func healthLine(h analytics.HealthBreakdown) string {
	s := fmt.Sprintf("%.3f (%s) trend=%.3f anomaly=%.3f performance=%.3f stability=%.3f",
		h.Score, h.Status, h.TrendHealth, h.AnomalyHealth, h.PerformanceHealth, h.StabilityHealth)
	if h.Degraded {
		s += " [degraded inputs]"
	}
	return s
}

func analyticsText(p *printer, s *analytics.Snapshot) {
	p.ln("\nAnalytics (generated %s)", stamp(s.GeneratedAt))
	p.ln("Overall health: %s", healthLine(s.Health))
	if len(s.SkippedUnits) > 0 {
		p.ln("Skipped units: %s", strings.Join(s.SkippedUnits, ", "))
	}

	for _, u := range s.Units {
		p.ln("\nUnit %s: %d samples, avg quality %.3f, avg latency %.3fs, error rate %.3f",
			u.Unit, u.Samples, u.AvgQuality, u.AvgLatency, u.ErrorRate)
		p.ln("  Health: %s", healthLine(u.Health))
		for _, t := range u.Trends {
			p.ln("  Trend %s: %s, change rate %.4f, confidence %.3f, next %.3f, stability %.3f, %d samples",
				t.Metric, t.Direction, t.ChangeRate, t.Confidence, t.ForecastNext, t.Stability, t.Samples)
		}
		for _, a := range u.Anomalies {
			p.ln("  Anomaly %s %s on %s at #%d (%s): expected %.3f, actual %.3f, z=%.2f%s",
				a.Severity, a.Type, a.Metric, a.Index, stamp(a.Timestamp), a.Expected, a.Actual, a.ZScore, contextText(a.Context))
		}
		for _, f := range u.Forecasts {
			p.ln("  Forecast %s (%s, horizon %d, accuracy %.3f): %s within %s",
				f.Metric, f.ModelType, f.Horizon, f.Accuracy, floats(f.PredictedValues), intervals(f.ConfidenceIntervals))
		}
	}

	c := s.Comparison
	if len(c.Rankings) > 0 {
		p.ln("\nRankings (best %s, worst %s, quality gap %.3f)", c.BestPerformer, c.WorstPerformer, c.QualityGap)
		for _, r := range c.Rankings {
			p.ln("  %d. %s: quality %.3f (consistency %.3f), latency %.3fs (consistency %.3f), %d samples",
				r.Rank, r.Unit, r.AvgQuality, r.Consistency, r.AvgLatency, r.LatencyConsistency, r.Samples)
		}
	}

	if len(s.Recommendations) > 0 {
		p.ln("\nRecommendations")
		for _, r := range s.Recommendations {
			p.ln("  [%s] %s%s: %s", r.Priority, r.Focus, scope(r.Unit, r.Metric), r.Message)
		}
	}
}

func predictiveText(p *printer, in *predictive.Insights) {
	p.ln("\nPredictive insights (generated %s), reliability %.3f", stamp(in.GeneratedAt), in.ReliabilityScore)

	for _, pr := range in.Predictions {
		p.ln("  Prediction %s (%s confidence, accuracy %.3f, %d samples): current %.3f, next %s within %s",
			pr.Metric, pr.Confidence, pr.Accuracy, pr.Samples, pr.Current, floats(pr.Predicted), intervals(pr.Intervals))
	}
	for _, w := range in.EarlyWarnings {
		p.ln("  Warning [%s] %s%s: change %.1f%%, impact in %s, confidence %.2f",
			w.Severity, w.AlertType, scope(w.Unit, w.Metric), w.ChangeRatio*100, w.TimeToImpact, w.Confidence)
		for _, a := range w.RecommendedActions {
			p.ln("    - %s", a)
		}
	}
	for _, c := range in.CapacityForecasts {
		breach := "no breach projected"
		if c.BreachTime != nil {
			breach = "breach at " + stamp(*c.BreachTime)
		}
		p.ln("  Capacity %s: utilization %.3f, threshold %.1f per %s, %s, projected %s",
			c.ResourceType, c.CurrentUtil, c.Threshold, c.Period, breach, floats(c.PredictedUtil))
		for _, r := range c.ScalingRecs {
			p.ln("    - %s", r)
		}
	}
	for _, d := range in.DriftAlerts {
		p.ln("  Drift %s (%s): magnitude %.3f, KS %.3f, p=%.4f, baseline %.3f -> current %.3f",
			d.ModelName, d.DriftType, d.Magnitude, d.Statistic, d.PValue, d.BaselinePerf, d.CurrentPerf)
	}
	for _, r := range in.Recommendations {
		p.ln("  Recommendation [%s] %s%s (score %.2f): %s", r.Timeline, r.Source, scope(r.Unit, r.Metric), r.Score, r.Message)
		for _, a := range r.Actions {
			p.ln("    - %s", a)
		}
	}
}

// Summary writes the executive summary in the requested format.
func Summary(w io.Writer, f Format, s *aggregator.Summary) error {
	if f != FormatText {
		return JSON(w, s)
	}
	p := &printer{w: w}
	p.ln("Executive summary generated %s", stamp(s.GeneratedAt))
	if s.Degraded {
		p.ln("DEGRADED: some sources failed")
	}
	for _, e := range s.Errors {
		p.ln("ERROR [%s]: %s", e.Source, e.Message)
	}
	p.ln("Health %.3f (%s) across %d units; best %s, worst %s",
		s.HealthScore, s.HealthStatus, s.Units, orNone(s.BestPerformer), orNone(s.WorstPerformer))
	p.ln("Prediction reliability %.3f; %d critical warnings; %d drift alerts", s.ReliabilityScore, s.CriticalWarnings, s.DriftAlerts)
	if s.CapacityBreach != nil {
		p.ln("Capacity breach projected at %s", stamp(*s.CapacityBreach))
	}
	for _, r := range s.Recommendations {
		p.ln("%d. [%s/%s]%s %s", r.Rank, r.Source, r.Priority, unitTag(r.Unit), r.Message)
	}
	return p.err
}

func optimizationText(w io.Writer, r *optimization.Report) error {
	p := &printer{w: w}
	p.ln("Optimization report generated %s, strategy %s", stamp(r.GeneratedAt), r.Strategy)
	if r.Skipped {
		p.ln("Skipped: %s", r.SkipReason)
		return p.err
	}
	p.ln("Health %.3f, %d opportunities, took %s", r.HealthScore, len(r.Opportunities), r.Duration)
	for _, o := range r.Opportunities {
		p.ln("  Opportunity %s%s priority %d from %s: %s", o.Type, unitTag(o.Unit), o.Priority, o.Source, o.Reason)
	}

	x := r.Execution
	p.ln("\nExecution: %d candidates, %d selected, %d executed", x.Candidates, x.Selected, x.Executed)
	for _, g := range x.Gated {
		p.ln("  Gated %s %s: %s", g.Type, g.ActionID, g.Reason)
	}
	if x.Aborted {
		p.ln("  Batch aborted by the safety threshold; skipped %s", strings.Join(x.Skipped, ", "))
	}
	for _, res := range r.Results {
		line := fmt.Sprintf("  %s %s: %s, actual %.2f%% in %s", res.ActionType, res.ActionID, res.Status, res.ActualImprovement, res.Duration)
		if res.Error != "" {
			line += ", error: " + res.Error
		}
		p.ln("%s", line)
		for _, s := range res.SideEffects {
			p.ln("    - %s", s)
		}
	}

	v := r.Validation
	p.ln("\nValidation: %d total, %d completed, %d failed, %d reverted; success rate %.2f, overall success %t",
		v.Total, v.Completed, v.Failed, v.Reverted, v.SuccessRate, v.OverallSuccess)
	for _, m := range v.Improvements {
		p.ln("  %s: average %.2f%%, total %.2f%% over %d", m.Metric, m.Average, m.Total, m.Count)
	}
	p.ln("Estimated savings: %s", r.EstimatedSavings.StringFixed(2))

	if len(r.StrategyEffectiveness) > 0 {
		p.ln("\nStrategy effectiveness")
		for _, s := range r.StrategyEffectiveness {
			p.ln("  %s: %d cycles, %d executed, %d completed, success rate %.2f, total improvement %.2f%%",
				s.Strategy, s.Cycles, s.Executed, s.Completed, s.SuccessRate, s.TotalImprovement)
		}
	}
	if len(r.TuningChanges) > 0 {
		p.ln("\nTuning changes")
		for _, c := range r.TuningChanges {
			p.ln("  %s%s: %.3f -> %.3f (%s, observed %.3f)", c.Parameter, unitTag(c.Unit), c.From, c.To, c.Direction, c.Observed)
		}
	}
	if len(r.NextFocusAreas) > 0 {
		p.ln("\nNext focus areas")
		for _, f := range r.NextFocusAreas {
			p.ln("  - %s", f)
		}
	}
	return p.err
}

func scope(unit, metric string) string {
	switch {
	case unit != "" && metric != "":
		return fmt.Sprintf(" (%s, %s)", unit, metric)
	case unit != "":
		return fmt.Sprintf(" (%s)", unit)
	case metric != "":
		return fmt.Sprintf(" (%s)", metric)
	}
	return ""
}

func unitTag(unit string) string {
	if unit == "" {
		return ""
	}
	return " [" + unit + "]"
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func contextText(ctx map[string]string) string {
	if len(ctx) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + ctx[k]
	}
	return " {" + strings.Join(parts, ", ") + "}"
}
