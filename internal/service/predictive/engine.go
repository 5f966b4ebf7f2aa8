package predictive

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
	"github.com/davidleathers/performance-control-loop/internal/service/analytics"
)

// Config holds the predictive engine thresholds.
type Config struct {
	MaxHistory           int           `koanf:"max_history"`
	Lookback             int           `koanf:"lookback"`
	MinPredictionSamples int           `koanf:"min_prediction_samples"`
	MinAccuracy          float64       `koanf:"min_accuracy"`
	Horizon              int           `koanf:"horizon"`
	MinWarningSamples    int           `koanf:"min_warning_samples"`
	WarningWindow        int           `koanf:"warning_window"`
	QualityWarnRatio     float64       `koanf:"quality_warn_ratio"`
	QualityCriticalRatio float64       `koanf:"quality_critical_ratio"`
	LatencyWarnRatio     float64       `koanf:"latency_warn_ratio"`
	LatencyCriticalRatio float64       `koanf:"latency_critical_ratio"`
	UrgentWithin         time.Duration `koanf:"urgent_within"`
	ImbalanceShare       float64       `koanf:"imbalance_share"`
	CapacityHeadroom     float64       `koanf:"capacity_headroom"`
	CapacityHorizon      time.Duration `koanf:"capacity_horizon"`
	CapacityPeriod       time.Duration `koanf:"capacity_period"`
	CapacityMinSamples   int           `koanf:"capacity_min_samples"`
	CapacityReportPoints int           `koanf:"capacity_report_points"`
	DriftMinSamples      int           `koanf:"drift_min_samples"`
	DriftStatistic       float64       `koanf:"drift_statistic"`
	DriftPValue          float64       `koanf:"drift_p_value"`
	DefaultInterval      time.Duration `koanf:"default_interval"`
}

func DefaultConfig() Config {
	return Config{
		MaxHistory:           1000,
		Lookback:             200,
		MinPredictionSamples: 20,
		MinAccuracy:          0.7,
		Horizon:              5,
		MinWarningSamples:    10,
		WarningWindow:        10,
		QualityWarnRatio:     0.15,
		QualityCriticalRatio: 0.25,
		LatencyWarnRatio:     0.30,
		LatencyCriticalRatio: 0.50,
		UrgentWithin:         time.Hour,
		ImbalanceShare:       0.70,
		CapacityHeadroom:     1.2,
		CapacityHorizon:      7 * 24 * time.Hour,
		CapacityPeriod:       time.Hour,
		CapacityMinSamples:   10,
		CapacityReportPoints: 24,
		DriftMinSamples:      50,
		DriftStatistic:       0.15,
		DriftPValue:          0.05,
		DefaultInterval:      time.Minute,
	}
}

// Engine owns the per-metric history and derives predictive insights from it.
// One Engine is one tenant's state; it is safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	hist       *history
	source     sample.Source
	watermarks map[string]time.Time
	unitCounts map[string]int
	volume     *volumeBuckets
	forecaster *analytics.Forecaster
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Engine)

// WithSource lets Analyze pull new interactions from the feed first.
func WithSource(source sample.Source) Option {
	return func(e *Engine) { e.source = source }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	if cfg.MinPredictionSamples <= 0 {
		cfg.MinPredictionSamples = def.MinPredictionSamples
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.WarningWindow <= 0 {
		cfg.WarningWindow = def.WarningWindow
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = def.DefaultInterval
	}
	if cfg.CapacityPeriod <= 0 {
		cfg.CapacityPeriod = def.CapacityPeriod
	}
	e := &Engine{
		cfg:        cfg,
		hist:       newHistory(cfg.MaxHistory),
		watermarks: make(map[string]time.Time),
		unitCounts: make(map[string]int),
		volume:     newVolumeBuckets(cfg.CapacityPeriod, cfg.MaxHistory),
		forecaster: analytics.NewForecaster(analytics.ForecastConfig{
			MinSamples: cfg.MinPredictionSamples,
			Horizon:    cfg.Horizon,
		}),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Record appends one observation to a metric's history.
func (e *Engine) Record(metric string, at time.Time, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hist.add(metric, at, value)
}

// RecordUnit appends an interaction for a unit, updating both the unit's own
// series and the aggregate series.
func (e *Engine) RecordUnit(unit string, in sample.Interaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recordInteraction(unit, in)
}

func (e *Engine) recordInteraction(unit string, in sample.Interaction) {
	e.hist.add(sample.MetricQuality, in.Timestamp, in.Quality)
	e.hist.add(sample.MetricLatency, in.Timestamp, in.LatencySeconds)
	e.hist.add(unitKey(sample.MetricQuality, unit), in.Timestamp, in.Quality)
	e.hist.add(unitKey(sample.MetricLatency, unit), in.Timestamp, in.LatencySeconds)
	e.unitCounts[unit]++
}

type unitInteraction struct {
	unit string
	sample.Interaction
}

// IngestFeed pulls interactions newer than each unit's watermark and records
// them in timestamp order across units. Each interaction is also counted into
// its fixed volume period; a period reaches the volume history once it has
// closed.
func (e *Engine) IngestFeed(ctx context.Context, source sample.Source) error {
	units, err := source.Units(ctx)
	if err != nil {
		return errors.NewIntegrationError("metrics_feed", "failed to list units").WithCause(err)
	}

	batches := make(map[string][]sample.Interaction, len(units))
	for _, unit := range units {
		in, err := source.Recent(ctx, unit, e.cfg.Lookback)
		if err != nil {
			e.logger.Warn("predictive ingest skipped unit", zap.String("unit", unit), zap.Error(err))
			continue
		}
		batches[unit] = in
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var fresh []unitInteraction
	for _, unit := range units {
		batch := batches[unit]
		mark, seen := e.watermarks[unit]
		if !seen && e.cfg.Lookback > 0 && len(batch) >= e.cfg.Lookback {
			// The unit's backlog was cut at Lookback, so its oldest period is
			// incomplete.
			e.volume.truncatedBefore(oldest(batch))
		}
		for _, it := range batch {
			if seen && !it.Timestamp.After(mark) {
				continue
			}
			fresh = append(fresh, unitInteraction{unit: unit, Interaction: it})
			if it.Timestamp.After(e.watermarks[unit]) {
				e.watermarks[unit] = it.Timestamp
			}
		}
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Timestamp.Before(fresh[j].Timestamp)
	})
	late := 0
	for _, f := range fresh {
		e.recordInteraction(f.unit, f.Interaction)
		if !e.volume.count(f.Timestamp) {
			late++
		}
	}
	if late > 0 {
		e.logger.Debug("interactions arrived after their volume period closed", zap.Int("count", late))
	}
	for _, p := range e.volume.close(e.now()) {
		e.hist.add(sample.MetricVolume, p.At, p.Value)
	}
	return nil
}

func oldest(in []sample.Interaction) time.Time {
	t := in[0].Timestamp
	for _, it := range in[1:] {
		if it.Timestamp.Before(t) {
			t = it.Timestamp
		}
	}
	return t
}

// Analyze ingests from the configured source, if any, and computes insights.
func (e *Engine) Analyze(ctx context.Context) (*Insights, error) {
	if e.source != nil {
		if err := e.IngestFeed(ctx, e.source); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	in := &Insights{GeneratedAt: now}
	in.Predictions = e.predictions()
	in.EarlyWarnings = append(e.trendWarnings(), e.loadImbalance()...)
	if fc, ok := e.capacityForecast(now); ok {
		in.CapacityForecasts = append(in.CapacityForecasts, fc)
	}
	in.DriftAlerts = e.driftAlerts()
	in.ReliabilityScore = reliability(in.Predictions)
	in.Recommendations = recommend(in, now)

	e.logger.Debug("predictive insights computed",
		zap.Int("predictions", len(in.Predictions)),
		zap.Int("warnings", len(in.EarlyWarnings)),
		zap.Int("drift_alerts", len(in.DriftAlerts)),
		zap.Float64("reliability", in.ReliabilityScore))
	return in, nil
}

// HistoryLen reports how many points a metric currently holds.
func (e *Engine) HistoryLen(metric string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.len(metric)
}

const unitSep = "/"

func unitKey(metric, unit string) string {
	return metric + unitSep + unit
}

func splitKey(key string) (metric, unit string) {
	if i := strings.Index(key, unitSep); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
