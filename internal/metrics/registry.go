package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry mirrors the control loop events onto OpenTelemetry instruments so
// they reach the OTLP collector alongside traces.
type Registry struct {
	meter metric.Meter

	AlertCounter       metric.Int64Counter
	SuppressedCounter  metric.Int64Counter
	EvaluationDuration metric.Float64Histogram
	ActionCounter      metric.Int64Counter
	AbortCounter       metric.Int64Counter
	CycleDuration      metric.Float64Histogram
	JobCounter         metric.Int64Counter
	NotificationCount  metric.Int64Counter
	HealthGauge        metric.Float64ObservableGauge
	ReliabilityGauge   metric.Float64ObservableGauge

	// State for observable metrics
	mu          sync.RWMutex
	health      float64
	reliability float64
}

// NewRegistry creates every instrument on meter.
func NewRegistry(meter metric.Meter) (*Registry, error) {
	r := &Registry{meter: meter}

	if err := r.initAlertMetrics(); err != nil {
		return nil, err
	}

	if err := r.initOptimizationMetrics(); err != nil {
		return nil, err
	}

	if err := r.initSystemMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) initAlertMetrics() error {
	var err error

	r.AlertCounter, err = r.meter.Int64Counter(
		"pcl.alert.fired_total",
		metric.WithDescription("Total number of alerts fired"),
	)
	if err != nil {
		return err
	}

	r.SuppressedCounter, err = r.meter.Int64Counter(
		"pcl.alert.suppressed_total",
		metric.WithDescription("Total number of rule firings suppressed"),
	)
	if err != nil {
		return err
	}

	r.EvaluationDuration, err = r.meter.Float64Histogram(
		"pcl.alert.evaluation_duration",
		metric.WithDescription("Duration of alert evaluation in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	return err
}

func (r *Registry) initOptimizationMetrics() error {
	var err error

	r.ActionCounter, err = r.meter.Int64Counter(
		"pcl.optimization.actions_total",
		metric.WithDescription("Total number of optimization actions by final status"),
	)
	if err != nil {
		return err
	}

	r.AbortCounter, err = r.meter.Int64Counter(
		"pcl.optimization.batch_aborts_total",
		metric.WithDescription("Batches stopped by the safety threshold"),
	)
	if err != nil {
		return err
	}

	r.CycleDuration, err = r.meter.Float64Histogram(
		"pcl.optimization.cycle_duration",
		metric.WithDescription("Duration of optimization cycles in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 50, 100, 500, 1000, 5000, 30000),
	)
	return err
}

func (r *Registry) initSystemMetrics() error {
	var err error

	r.JobCounter, err = r.meter.Int64Counter(
		"pcl.scheduler.job_runs_total",
		metric.WithDescription("Scheduled job runs"),
	)
	if err != nil {
		return err
	}

	r.NotificationCount, err = r.meter.Int64Counter(
		"pcl.notify.sent_total",
		metric.WithDescription("Notifications delivered"),
	)
	if err != nil {
		return err
	}

	r.HealthGauge, err = r.meter.Float64ObservableGauge(
		"pcl.health.score",
		metric.WithDescription("Latest overall health score"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.health)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.ReliabilityGauge, err = r.meter.Float64ObservableGauge(
		"pcl.prediction.reliability_score",
		metric.WithDescription("Latest prediction reliability score"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.reliability)
			return nil
		}),
	)
	return err
}

func (r *Registry) AlertFired(severity, category string) {
	r.AlertCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("severity", severity),
		attribute.String("category", category),
	))
}

func (r *Registry) AlertSuppressed(reason string) {
	r.SuppressedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *Registry) EvaluationObserved(d time.Duration, err error) {
	r.EvaluationDuration.Record(context.Background(), float64(d.Microseconds())/1000,
		metric.WithAttributes(attribute.String("outcome", outcome(err))))
}

func (r *Registry) ActionFinished(actionType, status string) {
	r.ActionCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", actionType),
		attribute.String("status", status),
	))
}

func (r *Registry) BatchAborted() {
	r.AbortCounter.Add(context.Background(), 1)
}

func (r *Registry) CycleObserved(d time.Duration, err error) {
	r.CycleDuration.Record(context.Background(), float64(d.Microseconds())/1000,
		metric.WithAttributes(attribute.String("outcome", outcome(err))))
}

func (r *Registry) SnapshotObserved(healthScore, reliabilityScore float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = healthScore
	r.reliability = reliabilityScore
}

func (r *Registry) JobRun(job string, err error) {
	r.JobCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome(err)),
	))
}

func (r *Registry) NotificationSent(kind string, err error) {
	r.NotificationCount.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome(err)),
	))
}
