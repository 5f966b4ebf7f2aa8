package main

import (
	"context"
	"strings"

	"github.com/davidleathers/performance-control-loop/internal/metrics"
	"github.com/davidleathers/performance-control-loop/internal/service/aggregator"
	"github.com/davidleathers/performance-control-loop/internal/service/alerting"
	"github.com/davidleathers/performance-control-loop/internal/service/notify"
	"github.com/davidleathers/performance-control-loop/internal/service/optimization"
	"github.com/davidleathers/performance-control-loop/internal/service/report"
	"github.com/davidleathers/performance-control-loop/internal/service/scheduler"
)

// Names of the built-in scheduler jobs.
const (
	jobAlerts       = "alerts"
	jobOptimization = "optimization"
	jobSummary      = "summary"
)

type summarizer interface {
	Summarize(ctx context.Context) (*aggregator.Summary, error)
}

func alertJob(e *alerting.Engine) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := e.Evaluate(ctx)
		return err
	}
}

func optimizationJob(e *optimization.Engine) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := e.Run(ctx)
		return err
	}
}

// summaryJob sends the executive summary as a summary notification. A
// degraded summary is still delivered; only a total collection failure fails
// the job.
func summaryJob(agg summarizer, sink notify.Sink, recorder metrics.Recorder) scheduler.Job {
	return func(ctx context.Context) error {
		sum, err := agg.Summarize(ctx)
		if err != nil {
			return err
		}
		recorder.SnapshotObserved(sum.HealthScore, sum.ReliabilityScore)

		var text strings.Builder
		if err := report.Summary(&text, report.FormatText, sum); err != nil {
			return err
		}
		severity := "info"
		if sum.Degraded || sum.CriticalWarnings > 0 {
			severity = "high"
		}
		err = sink.Send(ctx, notify.Payload{
			Kind:     notify.KindSummary,
			Severity: severity,
			Content:  text.String(),
			Metrics: map[string]float64{
				"health_score":      sum.HealthScore,
				"reliability_score": sum.ReliabilityScore,
				"critical_warnings": float64(sum.CriticalWarnings),
				"drift_alerts":      float64(sum.DriftAlerts),
			},
			Timestamp: sum.GeneratedAt,
		})
		recorder.NotificationSent(string(notify.KindSummary), err)
		return err
	}
}
