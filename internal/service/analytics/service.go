package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

// service implements the Service interface
type service struct {
	source    sample.Source
	cfg       Config
	trends    *TrendAnalyzer
	anomalies *AnomalyDetector
	forecasts *Forecaster
	health    *HealthScorer
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new analytics service
func NewService(source sample.Source, cfg Config, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultConfig().Lookback
	}
	if cfg.StabilityWindow < 2 {
		cfg.StabilityWindow = DefaultConfig().StabilityWindow
	}
	if cfg.ErrorRateWindow <= 0 {
		cfg.ErrorRateWindow = DefaultConfig().ErrorRateWindow
	}
	return &service{
		source:    source,
		cfg:       cfg,
		trends:    NewTrendAnalyzer(cfg.Trend),
		anomalies: NewAnomalyDetector(cfg.Anomaly),
		forecasts: NewForecaster(cfg.Forecast),
		health:    NewHealthScorer(logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Analyze reads every unit and builds one snapshot. A failure to list units
// is an integration failure; a failure reading one unit skips that unit.
func (s *service) Analyze(ctx context.Context) (*Snapshot, error) {
	units, err := s.source.Units(ctx)
	if err != nil {
		return nil, errors.NewIntegrationError("metrics_feed", "failed to list units").WithCause(err)
	}
	sort.Strings(units)

	snap := &Snapshot{GeneratedAt: s.now()}
	byUnit := make(map[string][]sample.Interaction, len(units))
	var all HealthInput
	for _, unit := range units {
		in, err := s.source.Recent(ctx, unit, s.cfg.Lookback)
		if err != nil {
			s.logger.Warn("skipping unit after feed error", zap.String("unit", unit), zap.Error(err))
			snap.SkippedUnits = append(snap.SkippedUnits, unit)
			continue
		}
		if len(in) == 0 {
			continue
		}
		byUnit[unit] = in

		report, input := s.analyzeInteractions(unit, in)
		snap.Units = append(snap.Units, report)
		all.Trends = append(all.Trends, input.Trends...)
		all.Anomalies = append(all.Anomalies, input.Anomalies...)
		all.RecentQuality = append(all.RecentQuality, input.RecentQuality...)
		all.QualityWindows = append(all.QualityWindows, input.QualityWindows...)
	}

	snap.Health = s.health.Score(all)
	snap.Comparison = Compare(byUnit)
	snap.Recommendations = s.recommend(snap)

	s.logger.Debug("analytics snapshot built",
		zap.Int("units", len(snap.Units)),
		zap.Float64("score", snap.Health.Score),
		zap.String("status", snap.Health.Status.String()))
	return snap, nil
}

func (s *service) AnalyzeUnit(ctx context.Context, unit string) (*UnitReport, error) {
	if unit == "" {
		return nil, errors.NewValidationError("INVALID_UNIT", "unit name is required")
	}
	in, err := s.source.Recent(ctx, unit, s.cfg.Lookback)
	if err != nil {
		return nil, errors.NewIntegrationError("metrics_feed", fmt.Sprintf("failed to read unit %s", unit)).WithCause(err)
	}
	report, _ := s.analyzeInteractions(unit, in)
	return &report, nil
}

func (s *service) analyzeInteractions(unit string, in []sample.Interaction) (UnitReport, HealthInput) {
	quality := sample.Qualities(in)
	latency := sample.Latencies(in)
	errRates := sample.ErrorRates(in, s.cfg.ErrorRateWindow)

	report := UnitReport{
		Unit:       unit,
		Samples:    len(in),
		AvgQuality: mean(quality),
		AvgLatency: mean(latency),
	}
	errs := 0
	for _, it := range in {
		if it.Error {
			errs++
		}
	}
	if len(in) > 0 {
		report.ErrorRate = float64(errs) / float64(len(in))
	}

	for _, m := range []struct {
		name   string
		values []float64
	}{
		{sample.MetricQuality, quality},
		{sample.MetricLatency, latency},
		{sample.MetricErrorRate, errRates},
	} {
		t := s.trends.Analyze(m.name, m.values)
		t.Unit = unit
		report.Trends = append(report.Trends, t)
	}

	report.Anomalies = append(report.Anomalies, s.anomalies.Detect(toSeries(unit, sample.MetricQuality, in, quality))...)
	report.Anomalies = append(report.Anomalies, s.anomalies.Detect(toSeries(unit, sample.MetricLatency, in, latency))...)

	for _, m := range []struct {
		name   string
		values []float64
	}{
		{sample.MetricQuality, quality},
		{sample.MetricLatency, latency},
	} {
		fc := s.forecasts.Forecast(m.name, m.values)
		fc.Unit = unit
		report.Forecasts = append(report.Forecasts, fc)
	}

	input := HealthInput{
		Trends:         report.Trends,
		Anomalies:      report.Anomalies,
		RecentQuality:  tail(quality, s.cfg.StabilityWindow),
		QualityWindows: chunk(quality, s.cfg.StabilityWindow),
	}
	report.Health = s.health.Score(input)
	return report, input
}

func (s *service) recommend(snap *Snapshot) []Recommendation {
	var recs []Recommendation

	if snap.Health.Score < 0.7 && len(snap.Units) > 0 {
		p := PriorityHigh
		if snap.Health.Status == HealthCritical {
			p = PriorityCritical
		}
		recs = append(recs, Recommendation{
			Priority: p,
			Focus:    FocusHealth,
			Metric:   MetricOverallScore,
			Message:  fmt.Sprintf("Overall health is %s (%.2f); review the lowest scoring units first", snap.Health.Status, snap.Health.Score),
		})
	}

	for _, u := range snap.Units {
		if u.Health.Status == HealthCritical {
			recs = append(recs, Recommendation{
				Priority: PriorityCritical,
				Focus:    FocusHealth,
				Unit:     u.Unit,
				Metric:   MetricOverallScore,
				Message:  fmt.Sprintf("Unit %s health is critical (%.2f); shift load away and investigate", u.Unit, u.Health.Score),
			})
		}
		for _, t := range u.Trends {
			if t.Direction != TrendDeclining || t.Confidence < 0.5 {
				continue
			}
			switch t.Metric {
			case sample.MetricQuality:
				recs = append(recs, Recommendation{
					Priority: PriorityHigh,
					Focus:    FocusQuality,
					Unit:     u.Unit,
					Metric:   t.Metric,
					Message:  fmt.Sprintf("Quality on %s is declining at %.3f per sample", u.Unit, -t.ChangeRate),
				})
			case sample.MetricLatency:
				p := PriorityMedium
				if t.Confidence > 0.8 {
					p = PriorityHigh
				}
				recs = append(recs, Recommendation{
					Priority: p,
					Focus:    FocusLatency,
					Unit:     u.Unit,
					Metric:   t.Metric,
					Message:  fmt.Sprintf("Latency on %s is rising at %.3fs per sample", u.Unit, t.ChangeRate),
				})
			case sample.MetricErrorRate:
				recs = append(recs, Recommendation{
					Priority: PriorityHigh,
					Focus:    FocusReliability,
					Unit:     u.Unit,
					Metric:   t.Metric,
					Message:  fmt.Sprintf("Error rate on %s is climbing", u.Unit),
				})
			}
		}

		severe := 0
		for _, a := range u.Anomalies {
			if a.Severity >= AnomalyHigh {
				severe++
			}
		}
		if severe > 0 {
			recs = append(recs, Recommendation{
				Priority: PriorityHigh,
				Focus:    FocusStability,
				Unit:     u.Unit,
				Metric:   MetricHighSeverityAnomaly,
				Message:  fmt.Sprintf("%d high severity anomalies on %s", severe, u.Unit),
			})
		}

		for _, fc := range u.Forecasts {
			if fc.Metric != sample.MetricQuality || fc.Horizon == 0 || fc.Accuracy < 0.7 {
				continue
			}
			if last := fc.PredictedValues[fc.Horizon-1]; last < 0.5 {
				recs = append(recs, Recommendation{
					Priority: PriorityHigh,
					Focus:    FocusQuality,
					Unit:     u.Unit,
					Metric:   fc.Metric,
					Message:  fmt.Sprintf("Quality on %s is forecast to reach %.2f within %d samples", u.Unit, last, fc.Horizon),
				})
			}
		}
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority > recs[j].Priority })
	return recs
}

func toSeries(unit, metric string, in []sample.Interaction, values []float64) []sample.MetricSample {
	out := make([]sample.MetricSample, len(in))
	ctx := map[string]string{"unit": unit}
	for i := range in {
		out[i] = sample.MetricSample{
			Timestamp:  in[i].Timestamp,
			MetricName: metric,
			Value:      values[i],
			Context:    ctx,
		}
	}
	return out
}

func chunk(values []float64, size int) [][]float64 {
	var out [][]float64
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		out = append(out, values[start:end])
	}
	return out
}
