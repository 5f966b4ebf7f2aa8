package predictive

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

// trendWarnings compares the last k points of every quality and latency
// series with the k before them, where k = min(WarningWindow, n/5).
func (e *Engine) trendWarnings() []EarlyWarning {
	var out []EarlyWarning
	for _, key := range e.hist.metrics() {
		metric, unit := splitKey(key)
		if metric != sample.MetricQuality && metric != sample.MetricLatency {
			continue
		}
		ps := e.hist.points(key)
		n := len(ps)
		if n < e.cfg.MinWarningSamples {
			continue
		}
		k := n / 5
		if k > e.cfg.WarningWindow {
			k = e.cfg.WarningWindow
		}
		if k < 2 {
			continue
		}
		values := e.hist.values(key)
		prior := mean(values[n-2*k : n-k])
		recent := mean(values[n-k:])
		interval := spacing(ps[n-2*k:])
		if interval == 0 {
			interval = e.cfg.DefaultInterval
		}

		var w *EarlyWarning
		if metric == sample.MetricQuality {
			w = e.qualityWarning(prior, recent, k, interval)
		} else {
			w = e.latencyWarning(prior, recent, k, interval)
		}
		if w == nil {
			continue
		}
		w.Metric = metric
		w.Unit = unit
		out = append(out, *w)
	}
	return out
}

func (e *Engine) qualityWarning(prior, recent float64, k int, interval time.Duration) *EarlyWarning {
	if prior <= 0 || recent >= prior {
		return nil
	}
	ratio := (prior - recent) / prior
	if ratio <= e.cfg.QualityWarnRatio {
		return nil
	}
	critical := prior * (1 - e.cfg.QualityCriticalRatio)
	tti := timeToLevel(recent-critical, (prior-recent)/float64(k), interval)
	w := &EarlyWarning{
		AlertType:    WarningQualityDecline,
		ChangeRatio:  ratio,
		TimeToImpact: tti,
		Confidence:   clamp01(ratio / e.cfg.QualityCriticalRatio),
		RecommendedActions: []string{
			"Review recent changes affecting output quality",
			"Route critical work to the best performing units",
		},
	}
	w.Severity = e.severity(ratio, e.cfg.QualityCriticalRatio, tti)
	return w
}

func (e *Engine) latencyWarning(prior, recent float64, k int, interval time.Duration) *EarlyWarning {
	if prior <= 0 || recent <= prior {
		return nil
	}
	ratio := (recent - prior) / prior
	if ratio <= e.cfg.LatencyWarnRatio {
		return nil
	}
	critical := prior * (1 + e.cfg.LatencyCriticalRatio)
	tti := timeToLevel(critical-recent, (recent-prior)/float64(k), interval)
	w := &EarlyWarning{
		AlertType:    WarningLatencyIncrease,
		ChangeRatio:  ratio,
		TimeToImpact: tti,
		Confidence:   clamp01(ratio / e.cfg.LatencyCriticalRatio),
		RecommendedActions: []string{
			"Check for saturated units and queue build-up",
			"Add capacity or shed low priority load",
		},
	}
	w.Severity = e.severity(ratio, e.cfg.LatencyCriticalRatio, tti)
	return w
}

func (e *Engine) severity(ratio, criticalRatio float64, tti time.Duration) WarningSeverity {
	switch {
	case ratio > criticalRatio:
		return SeverityCritical
	case tti < e.cfg.UrgentWithin:
		return SeverityUrgent
	default:
		return SeverityWarning
	}
}

// timeToLevel extrapolates how long until headroom is consumed at
// ratePerSample. Exhausted headroom is zero.
func timeToLevel(headroom, ratePerSample float64, interval time.Duration) time.Duration {
	if headroom <= 0 {
		return 0
	}
	if ratePerSample <= 0 {
		return time.Duration(1<<63 - 1)
	}
	samples := headroom / ratePerSample
	return time.Duration(samples * float64(interval))
}

// loadImbalance flags a unit carrying more than ImbalanceShare of all
// recorded interactions.
func (e *Engine) loadImbalance() []EarlyWarning {
	if len(e.unitCounts) < 2 {
		return nil
	}
	total := 0
	units := make([]string, 0, len(e.unitCounts))
	for u, c := range e.unitCounts {
		total += c
		units = append(units, u)
	}
	if total == 0 {
		return nil
	}
	sort.Strings(units)

	var out []EarlyWarning
	for _, u := range units {
		share := float64(e.unitCounts[u]) / float64(total)
		if share <= e.cfg.ImbalanceShare {
			continue
		}
		out = append(out, EarlyWarning{
			Severity:    SeverityWarning,
			AlertType:   WarningLoadImbalance,
			Metric:      sample.MetricVolume,
			Unit:        u,
			ChangeRatio: share,
			Confidence:  share,
			RecommendedActions: []string{
				fmt.Sprintf("Rebalance work away from %s (%.0f%% of interactions)", u, share*100),
			},
		})
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
