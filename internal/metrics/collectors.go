package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pcl"

// Collectors holds the Prometheus side of the instrumentation.
type Collectors struct {
	alertsFired        *prometheus.CounterVec
	alertsSuppressed   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	actionsTotal       *prometheus.CounterVec
	batchAborts        prometheus.Counter
	cycleDuration      *prometheus.HistogramVec
	healthScore        prometheus.Gauge
	reliabilityScore   prometheus.Gauge
	jobRuns            *prometheus.CounterVec
	notifications      *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewCollectors registers every collector on reg. Use a fresh registry per
// test; registering twice on the same one panics.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		alertsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_fired_total",
			Help:      "Alerts fired by severity and category",
		}, []string{"severity", "category"}),
		alertsSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_suppressed_total",
			Help:      "Rule firings suppressed, by reason",
		}, []string{"reason"}),
		evaluationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "evaluation_duration_seconds",
			Help:      "Alert evaluation duration",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"outcome"}),
		actionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimization",
			Name:      "actions_total",
			Help:      "Optimization actions by type and final status",
		}, []string{"type", "status"}),
		batchAborts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimization",
			Name:      "batch_aborts_total",
			Help:      "Batches stopped by the safety threshold",
		}),
		cycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimization",
			Name:      "cycle_duration_seconds",
			Help:      "Optimization cycle duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"outcome"}),
		healthScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_score",
			Help:      "Latest overall health score",
		}),
		reliabilityScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "prediction_reliability_score",
			Help:      "Latest prediction reliability score",
		}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by outcome",
		}, []string{"job", "outcome"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notifications by kind and outcome",
		}, []string{"kind", "outcome"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"method", "route"}),
	}
}

func (c *Collectors) AlertFired(severity, category string) {
	c.alertsFired.WithLabelValues(severity, category).Inc()
}

func (c *Collectors) AlertSuppressed(reason string) {
	c.alertsSuppressed.WithLabelValues(reason).Inc()
}

func (c *Collectors) EvaluationObserved(d time.Duration, err error) {
	c.evaluationDuration.WithLabelValues(outcome(err)).Observe(d.Seconds())
}

func (c *Collectors) ActionFinished(actionType, status string) {
	c.actionsTotal.WithLabelValues(actionType, status).Inc()
}

func (c *Collectors) BatchAborted() {
	c.batchAborts.Inc()
}

func (c *Collectors) CycleObserved(d time.Duration, err error) {
	c.cycleDuration.WithLabelValues(outcome(err)).Observe(d.Seconds())
}

func (c *Collectors) SnapshotObserved(healthScore, reliabilityScore float64) {
	c.healthScore.Set(healthScore)
	c.reliabilityScore.Set(reliabilityScore)
}

func (c *Collectors) JobRun(job string, err error) {
	c.jobRuns.WithLabelValues(job, outcome(err)).Inc()
}

func (c *Collectors) NotificationSent(kind string, err error) {
	c.notifications.WithLabelValues(kind, outcome(err)).Inc()
}
