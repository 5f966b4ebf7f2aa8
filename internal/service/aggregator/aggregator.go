package aggregator

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/service/analytics"
	"github.com/davidleathers/performance-control-loop/internal/service/predictive"
)

// Source names used in error markers.
const (
	SourceAnalytics  = "analytics"
	SourcePredictive = "predictive"
)

// AnalyticsProvider is satisfied by analytics.Service.
type AnalyticsProvider interface {
	Analyze(ctx context.Context) (*analytics.Snapshot, error)
}

// PredictiveProvider is satisfied by *predictive.Engine.
type PredictiveProvider interface {
	Analyze(ctx context.Context) (*predictive.Insights, error)
}

// SourceError marks the half of a snapshot that could not be produced.
type SourceError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Snapshot joins one analytics pass and one predictive pass taken together.
// Either half is nil when its source failed; Errors says which.
type Snapshot struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Analytics   *analytics.Snapshot  `json:"analytics,omitempty"`
	Predictive  *predictive.Insights `json:"predictive,omitempty"`
	Errors      []SourceError        `json:"errors,omitempty"`
}

// Complete reports whether both halves are present.
func (s *Snapshot) Complete() bool {
	return s.Analytics != nil && s.Predictive != nil
}

// HealthScore is the analytics overall score, or a neutral 0.5 without one.
func (s *Snapshot) HealthScore() float64 {
	if s.Analytics == nil {
		return 0.5
	}
	return s.Analytics.Health.Score
}

// ReliabilityScore is the predictive reliability, or 0 without one.
func (s *Snapshot) ReliabilityScore() float64 {
	if s.Predictive == nil {
		return 0
	}
	return s.Predictive.ReliabilityScore
}

// MetricValues merges both halves into the flat map alert rules read.
func (s *Snapshot) MetricValues() map[string]float64 {
	values := make(map[string]float64)
	if s.Analytics != nil {
		for k, v := range s.Analytics.MetricValues() {
			values[k] = v
		}
	}
	if s.Predictive != nil {
		for k, v := range s.Predictive.MetricValues() {
			values[k] = v
		}
	}
	return values
}

// PriorityRecommendations returns up to n messages, analytics critical and
// high first, then immediate predictive items.
func (s *Snapshot) PriorityRecommendations(n int) []string {
	var out []string
	if s.Analytics != nil {
		out = append(out, s.Analytics.PriorityRecommendations(n)...)
	}
	if s.Predictive != nil {
		for _, r := range s.Predictive.Recommendations {
			if len(out) >= n {
				break
			}
			if r.Timeline == predictive.TimelineImmediate {
				out = append(out, r.Message)
			}
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Aggregator runs both analyses concurrently and joins the results.
type Aggregator struct {
	analytics  AnalyticsProvider
	predictive PredictiveProvider
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func New(a AnalyticsProvider, p PredictiveProvider, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		analytics:  a,
		predictive: p,
		logger:     logger,
		tracer:     otel.Tracer("controlloop.aggregator"),
		now:        time.Now,
	}
}

// Collect runs analytics and predictive analysis in parallel and waits for
// both. When a half fails the returned snapshot holds the other half and the
// error is an IntegrationError; when both fail the snapshot is nil.
func (a *Aggregator) Collect(ctx context.Context) (*Snapshot, error) {
	ctx, span := a.tracer.Start(ctx, "Aggregator.Collect")
	defer span.End()

	snap := &Snapshot{GeneratedAt: a.now()}
	var analyticsErr, predictiveErr error

	// Neither half cancels the other; a partial snapshot is still useful.
	var g errgroup.Group
	g.Go(func() error {
		snap.Analytics, analyticsErr = a.analytics.Analyze(ctx)
		return analyticsErr
	})
	g.Go(func() error {
		snap.Predictive, predictiveErr = a.predictive.Analyze(ctx)
		return predictiveErr
	})
	if err := g.Wait(); err == nil {
		span.SetAttributes(attribute.Bool("snapshot.complete", true))
		return snap, nil
	}

	if analyticsErr != nil {
		snap.Analytics = nil
		snap.Errors = append(snap.Errors, SourceError{Source: SourceAnalytics, Message: analyticsErr.Error()})
		a.logger.Warn("analytics pass failed", zap.Error(analyticsErr))
	}
	if predictiveErr != nil {
		snap.Predictive = nil
		snap.Errors = append(snap.Errors, SourceError{Source: SourcePredictive, Message: predictiveErr.Error()})
		a.logger.Warn("predictive pass failed", zap.Error(predictiveErr))
	}

	sources := make([]string, len(snap.Errors))
	for i, e := range snap.Errors {
		sources[i] = e.Source
	}
	cause := analyticsErr
	if cause == nil {
		cause = predictiveErr
	}
	err := errors.NewIntegrationError(strings.Join(sources, "+"), "snapshot incomplete").WithCause(cause)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.Bool("snapshot.complete", false))

	if snap.Analytics == nil && snap.Predictive == nil {
		return nil, err
	}
	return snap, err
}

// RankedRecommendation is one line of the executive summary.
type RankedRecommendation struct {
	Rank     int    `json:"rank"`
	Source   string `json:"source"`
	Priority string `json:"priority"`
	Unit     string `json:"unit,omitempty"`
	Message  string `json:"message"`
	score    int
}

// Summary is the executive view of one snapshot.
type Summary struct {
	GeneratedAt      time.Time              `json:"generated_at"`
	Degraded         bool                   `json:"degraded"`
	Errors           []SourceError          `json:"errors,omitempty"`
	HealthScore      float64                `json:"health_score"`
	HealthStatus     string                 `json:"health_status"`
	Units            int                    `json:"units"`
	BestPerformer    string                 `json:"best_performer,omitempty"`
	WorstPerformer   string                 `json:"worst_performer,omitempty"`
	ReliabilityScore float64                `json:"reliability_score"`
	CriticalWarnings int                    `json:"critical_warnings"`
	DriftAlerts      int                    `json:"drift_alerts"`
	CapacityBreach   *time.Time             `json:"capacity_breach,omitempty"`
	Recommendations  []RankedRecommendation `json:"recommendations"`
}

// MaxSummaryRecommendations bounds the ranked list.
const MaxSummaryRecommendations = 10

// Summarize collects a snapshot and condenses it. A failed half leaves a
// degraded summary with an error marker; the error is returned only when
// nothing could be collected.
func (a *Aggregator) Summarize(ctx context.Context) (*Summary, error) {
	snap, err := a.Collect(ctx)
	if snap == nil {
		return &Summary{
			GeneratedAt:  a.now(),
			Degraded:     true,
			Errors:       []SourceError{{Source: SourceAnalytics + "+" + SourcePredictive, Message: err.Error()}},
			HealthScore:  0.5,
			HealthStatus: analytics.StatusFor(0.5).String(),
		}, err
	}
	return Summarize(snap), nil
}

// Summarize condenses an already collected snapshot.
func Summarize(snap *Snapshot) *Summary {
	sum := &Summary{
		GeneratedAt:  snap.GeneratedAt,
		Degraded:     !snap.Complete(),
		Errors:       snap.Errors,
		HealthScore:  snap.HealthScore(),
		HealthStatus: analytics.StatusFor(snap.HealthScore()).String(),
	}

	var recs []RankedRecommendation
	if as := snap.Analytics; as != nil {
		sum.HealthStatus = as.Health.Status.String()
		sum.Units = len(as.Units)
		sum.BestPerformer = as.Comparison.BestPerformer
		sum.WorstPerformer = as.Comparison.WorstPerformer
		for _, r := range as.Recommendations {
			recs = append(recs, RankedRecommendation{
				Source:   SourceAnalytics,
				Priority: r.Priority.String(),
				Unit:     r.Unit,
				Message:  r.Message,
				score:    analyticsScore(r.Priority),
			})
		}
	}
	if ps := snap.Predictive; ps != nil {
		sum.ReliabilityScore = ps.ReliabilityScore
		sum.DriftAlerts = len(ps.DriftAlerts)
		for _, w := range ps.EarlyWarnings {
			if w.Severity == predictive.SeverityCritical {
				sum.CriticalWarnings++
			}
		}
		for _, c := range ps.CapacityForecasts {
			if c.BreachTime != nil && (sum.CapacityBreach == nil || c.BreachTime.Before(*sum.CapacityBreach)) {
				t := *c.BreachTime
				sum.CapacityBreach = &t
			}
		}
		for _, r := range ps.Recommendations {
			recs = append(recs, RankedRecommendation{
				Source:   SourcePredictive,
				Priority: r.Timeline.String(),
				Unit:     r.Unit,
				Message:  r.Message,
				score:    predictiveScore(r.Timeline),
			})
		}
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].score > recs[j].score })
	if len(recs) > MaxSummaryRecommendations {
		recs = recs[:MaxSummaryRecommendations]
	}
	for i := range recs {
		recs[i].Rank = i + 1
	}
	sum.Recommendations = recs
	return sum
}

func analyticsScore(p analytics.Priority) int {
	switch p {
	case analytics.PriorityCritical:
		return 3
	case analytics.PriorityHigh:
		return 2
	default:
		return 1
	}
}

func predictiveScore(t predictive.Timeline) int {
	switch t {
	case predictive.TimelineImmediate:
		return 3
	case predictive.TimelineWithinWeek:
		return 2
	default:
		return 1
	}
}
