package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/performance-control-loop/internal/infrastructure/config"
	"github.com/davidleathers/performance-control-loop/internal/metrics"
	"github.com/davidleathers/performance-control-loop/internal/service/aggregator"
	"github.com/davidleathers/performance-control-loop/internal/service/notify"
	"github.com/davidleathers/performance-control-loop/internal/service/scheduler"
)

type fixedSummarizer struct {
	sum *aggregator.Summary
	err error
}

func (f fixedSummarizer) Summarize(context.Context) (*aggregator.Summary, error) {
	return f.sum, f.err
}

type captureSink struct {
	sent []notify.Payload
	err  error
}

func (c *captureSink) Send(_ context.Context, p notify.Payload) error {
	c.sent = append(c.sent, p)
	return c.err
}

type countingRecorder struct {
	metrics.Nop
	snapshots     int
	notifications map[string]int
}

func (r *countingRecorder) SnapshotObserved(float64, float64) { r.snapshots++ }

func (r *countingRecorder) NotificationSent(kind string, err error) {
	if r.notifications == nil {
		r.notifications = map[string]int{}
	}
	if err == nil {
		r.notifications[kind]++
	}
}

func TestSummaryJob(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		sum          *aggregator.Summary
		wantSeverity string
	}{
		{
			name: "healthy summary is informational",
			sum: &aggregator.Summary{
				GeneratedAt:      at,
				HealthScore:      0.92,
				HealthStatus:     "excellent",
				ReliabilityScore: 0.9,
			},
			wantSeverity: "info",
		},
		{
			name: "critical warnings raise severity",
			sum: &aggregator.Summary{
				GeneratedAt:      at,
				HealthScore:      0.55,
				HealthStatus:     "fair",
				ReliabilityScore: 0.6,
				CriticalWarnings: 2,
				DriftAlerts:      1,
			},
			wantSeverity: "high",
		},
		{
			name: "degraded summary is still delivered",
			sum: &aggregator.Summary{
				GeneratedAt: at,
				Degraded:    true,
				Errors:      []aggregator.SourceError{{Source: "predictive", Message: "timeout"}},
				HealthScore: 0.8,
			},
			wantSeverity: "high",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &captureSink{}
			rec := &countingRecorder{}

			err := summaryJob(fixedSummarizer{sum: tt.sum}, sink, rec)(context.Background())
			require.NoError(t, err)

			require.Len(t, sink.sent, 1)
			p := sink.sent[0]
			assert.Equal(t, notify.KindSummary, p.Kind)
			assert.Equal(t, tt.wantSeverity, p.Severity)
			assert.Equal(t, at, p.Timestamp)
			assert.InDelta(t, tt.sum.HealthScore, p.Metrics["health_score"], 1e-9)
			assert.InDelta(t, float64(tt.sum.CriticalWarnings), p.Metrics["critical_warnings"], 1e-9)
			assert.NotEmpty(t, p.Content)

			assert.Equal(t, 1, rec.snapshots)
			assert.Equal(t, 1, rec.notifications[string(notify.KindSummary)])
		})
	}
}

func TestSummaryJobFailures(t *testing.T) {
	t.Run("collection failure skips delivery", func(t *testing.T) {
		sink := &captureSink{}
		rec := &countingRecorder{}
		boom := errors.New("feed unavailable")

		err := summaryJob(fixedSummarizer{err: boom}, sink, rec)(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, sink.sent)
		assert.Zero(t, rec.snapshots)
	})

	t.Run("delivery failure surfaces", func(t *testing.T) {
		sink := &captureSink{err: errors.New("webhook down")}
		rec := &countingRecorder{}

		err := summaryJob(fixedSummarizer{sum: &aggregator.Summary{HealthScore: 0.7}}, sink, rec)(context.Background())
		assert.Error(t, err)
		assert.Len(t, sink.sent, 1)
		assert.Zero(t, rec.notifications[string(notify.KindSummary)])
	})
}

func TestRegisterJobs(t *testing.T) {
	sched := scheduler.New(zaptest.NewLogger(t))
	cfg := config.SchedulerConfig{
		Enabled:      true,
		Alerts:       scheduler.TierHigh,
		Optimization: scheduler.TierLow,
		Summary:      scheduler.TierDaily,
	}

	err := registerJobs(sched, cfg, nil, nil, fixedSummarizer{}, &captureSink{}, metrics.Nop{})
	require.NoError(t, err)

	want := map[string]scheduler.Tier{
		jobAlerts:       scheduler.TierHigh,
		jobOptimization: scheduler.TierLow,
		jobSummary:      scheduler.TierDaily,
	}
	for name, tier := range want {
		s, err := sched.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, tier, s.Tier, name)
		assert.True(t, s.Enabled, name)
		assert.Equal(t, name, s.Job, name)
	}

	err = registerJobs(sched, cfg, nil, nil, fixedSummarizer{}, &captureSink{}, metrics.Nop{})
	assert.Error(t, err, "job names are registered once")
}
