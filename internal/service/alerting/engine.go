package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/alert"
	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/metrics"
	"github.com/davidleathers/performance-control-loop/internal/service/aggregator"
	"github.com/davidleathers/performance-control-loop/internal/service/notify"
)

// SnapshotProvider is satisfied by *aggregator.Aggregator.
type SnapshotProvider interface {
	Collect(ctx context.Context) (*aggregator.Snapshot, error)
}

// CooldownStore persists rule firings outside the process. Claim records a
// firing at `at` unless the rule already fired within ttl, and reports
// whether the claim was taken. LastFired returns nil when no firing is held.
type CooldownStore interface {
	Claim(ctx context.Context, ruleID string, at time.Time, ttl time.Duration) (bool, error)
	LastFired(ctx context.Context, ruleID string) (*time.Time, error)
	Release(ctx context.Context, ruleID string) error
}

// Archive keeps fired alerts durably.
type Archive interface {
	SaveAlert(ctx context.Context, a *alert.Alert) error
}

type Config struct {
	MaxHistory         int           `koanf:"max_history"`
	MaxRecommendations int           `koanf:"max_recommendations"`
	MonitorInterval    time.Duration `koanf:"monitor_interval"`
}

func DefaultConfig() Config {
	return Config{
		MaxHistory:         1000,
		MaxRecommendations: 3,
		MonitorInterval:    5 * time.Minute,
	}
}

// Engine owns the rule registry, cooldown state and alert history for one
// tenant. Evaluate holds a cycle lock so at most one evaluation runs at a time.
type Engine struct {
	cycle sync.Mutex
	mu    sync.RWMutex

	cfg       Config
	provider  SnapshotProvider
	rules     []*alert.Rule
	history   []*alert.Alert
	sink      notify.Sink
	cooldowns CooldownStore
	archive   Archive
	recorder  metrics.Recorder
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Engine)

func WithSink(sink notify.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

func WithCooldownStore(store CooldownStore) Option {
	return func(e *Engine) { e.cooldowns = store }
}

func WithArchive(archive Archive) Option {
	return func(e *Engine) { e.archive = archive }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRules seeds the registry in order. Invalid rules are skipped and logged.
func WithRules(rules ...*alert.Rule) Option {
	return func(e *Engine) {
		for _, r := range rules {
			if err := e.addRule(r); err != nil {
				e.logger.Warn("skipping invalid rule", zap.String("rule", r.Name), zap.Error(err))
			}
		}
	}
}

func NewEngine(provider SnapshotProvider, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	if cfg.MaxRecommendations < 0 {
		cfg.MaxRecommendations = def.MaxRecommendations
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	e := &Engine{
		cfg:      cfg,
		provider: provider,
		sink:     notify.Discard{},
		recorder: metrics.Nop{},
		logger:   logger,
		tracer:   otel.Tracer("controlloop.alerting"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddRule registers a rule at the end of the evaluation order.
func (e *Engine) AddRule(rule *alert.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addRule(rule)
}

func (e *Engine) addRule(rule *alert.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	for _, r := range e.rules {
		if r.ID == rule.ID {
			return errors.NewConflictError(fmt.Sprintf("rule %s already exists", rule.ID))
		}
	}
	e.rules = append(e.rules, rule.Clone())
	return nil
}

func validateRule(rule *alert.Rule) error {
	switch {
	case rule == nil:
		return errors.NewValidationError("INVALID_RULE", "rule is required")
	case rule.ID == "":
		return errors.NewValidationError("INVALID_RULE", "rule id is required")
	case strings.TrimSpace(rule.Name) == "":
		return errors.NewValidationError("INVALID_RULE", "rule name is required")
	case len(rule.Thresholds) == 0:
		return errors.NewValidationError("INVALID_RULE", "rule needs at least one metric threshold")
	case rule.Cooldown < 0:
		return errors.NewValidationError("INVALID_RULE", "cooldown cannot be negative")
	}
	for _, t := range rule.Thresholds {
		if t.Metric == "" {
			return errors.NewValidationError("INVALID_RULE", "threshold metric is required")
		}
	}
	return nil
}

// RemoveRule unregisters a rule and drops its shared cooldown. A store
// failure is logged; the key still expires with its TTL.
func (e *Engine) RemoveRule(ctx context.Context, id string) error {
	if err := e.removeRule(id); err != nil {
		return err
	}
	if e.cooldowns != nil {
		if err := e.cooldowns.Release(ctx, id); err != nil {
			e.logger.Warn("failed to release rule cooldown", zap.String("rule_id", id), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) removeRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return nil
		}
	}
	return errors.ErrRuleNotFound
}

// RestoreCooldowns loads each rule's last firing from the cooldown store so a
// restarted process keeps honouring cooldowns in its local state and summary.
// A later local firing is kept. Per-rule failures are logged and skipped.
func (e *Engine) RestoreCooldowns(ctx context.Context) int {
	if e.cooldowns == nil {
		return 0
	}
	rules := e.Rules()
	fired := make(map[string]time.Time, len(rules))
	for _, r := range rules {
		at, err := e.cooldowns.LastFired(ctx, r.ID)
		if err != nil {
			e.logger.Warn("failed to restore rule cooldown", zap.String("rule_id", r.ID), zap.Error(err))
			continue
		}
		if at != nil {
			fired[r.ID] = *at
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	restored := 0
	for _, r := range e.rules {
		at, ok := fired[r.ID]
		if !ok || (r.LastFiredAt != nil && !at.After(*r.LastFiredAt)) {
			continue
		}
		r.LastFiredAt = &at
		restored++
	}
	if restored > 0 {
		e.logger.Info("rule cooldowns restored", zap.Int("rules", restored))
	}
	return restored
}

func (e *Engine) SetRuleEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.ID == id {
			r.Enabled = enabled
			return nil
		}
	}
	return errors.ErrRuleNotFound
}

// Rules returns copies in evaluation order.
func (e *Engine) Rules() []*alert.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*alert.Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Clone()
	}
	return out
}

// Evaluate collects one snapshot and checks every enabled rule outside its
// cooldown against it. An incomplete snapshot stops the evaluation with an
// IntegrationError and fires nothing.
func (e *Engine) Evaluate(ctx context.Context) ([]*alert.Alert, error) {
	if !e.cycle.TryLock() {
		return nil, errors.ErrCycleInFlight
	}
	defer e.cycle.Unlock()

	ctx, span := e.tracer.Start(ctx, "AlertEngine.Evaluate")
	defer span.End()
	start := time.Now()

	snap, err := e.provider.Collect(ctx)
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypeIntegration) {
			err = errors.NewIntegrationError("snapshot", "failed to collect snapshot").WithCause(err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.recorder.EvaluationObserved(time.Since(start), err)
		e.logger.Warn("alert evaluation skipped", zap.Error(err))
		return nil, err
	}
	e.recorder.SnapshotObserved(snap.HealthScore(), snap.ReliabilityScore())

	fired := e.evaluateRules(ctx, snap)
	span.SetAttributes(attribute.Int("alerts.fired", len(fired)))

	if len(fired) > 0 {
		e.deliver(ctx, fired)
	}
	e.recorder.EvaluationObserved(time.Since(start), nil)
	return fired, nil
}

type candidate struct {
	rule       *alert.Rule
	violations []alert.Violation
}

// evaluateRules checks rules under the read lock, claims shared cooldowns
// without holding any lock, then commits firings for rules still registered
// and enabled.
func (e *Engine) evaluateRules(ctx context.Context, snap *aggregator.Snapshot) []*alert.Alert {
	values := snap.MetricValues()
	recs := snap.PriorityRecommendations(e.cfg.MaxRecommendations)
	now := e.now()

	var candidates []candidate
	e.mu.RLock()
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if rule.InCooldown(now) {
			e.recorder.AlertSuppressed("cooldown")
			continue
		}
		if violations := rule.Check(values); len(violations) > 0 {
			candidates = append(candidates, candidate{rule: rule, violations: violations})
		}
	}
	e.mu.RUnlock()

	if e.cooldowns != nil {
		candidates = e.claim(ctx, candidates, now)
	}
	if len(candidates) == 0 {
		return nil
	}

	e.mu.Lock()
	var fired []*alert.Alert
	var dropped []string
	for _, c := range candidates {
		rule := c.rule
		if !e.registered(rule) || !rule.Enabled {
			dropped = append(dropped, rule.ID)
			continue
		}
		a := alert.NewAlert(rule, c.violations, recommendationsFor(rule.Category, recs), now)
		firedAt := now
		rule.LastFiredAt = &firedAt
		e.appendHistory(a)
		fired = append(fired, a)

		e.recorder.AlertFired(a.Severity.String(), a.Category.String())
		e.logger.Warn("alert fired",
			zap.String("alert_id", a.ID),
			zap.String("rule", rule.Name),
			zap.String("severity", a.Severity.String()),
			zap.String("category", a.Category.String()),
			zap.Int("violations", len(c.violations)))
	}
	e.mu.Unlock()

	if e.cooldowns != nil {
		for _, id := range dropped {
			if err := e.cooldowns.Release(ctx, id); err != nil {
				e.logger.Warn("failed to release rule cooldown", zap.String("rule_id", id), zap.Error(err))
			}
		}
	}
	return fired
}

// claim keeps the candidates whose shared cooldown was taken. When the store
// is unavailable the local cooldown decides.
func (e *Engine) claim(ctx context.Context, candidates []candidate, now time.Time) []candidate {
	kept := candidates[:0]
	for _, c := range candidates {
		claimed, err := e.cooldowns.Claim(ctx, c.rule.ID, now, c.rule.Cooldown)
		if err != nil {
			e.logger.Warn("cooldown store unavailable, using local state",
				zap.String("rule_id", c.rule.ID), zap.Error(err))
		} else if !claimed {
			e.recorder.AlertSuppressed("cooldown_store")
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func (e *Engine) registered(rule *alert.Rule) bool {
	for _, r := range e.rules {
		if r == rule {
			return true
		}
	}
	return false
}

func (e *Engine) appendHistory(a *alert.Alert) {
	e.history = append(e.history, a)
	if over := len(e.history) - e.cfg.MaxHistory; over > 0 {
		e.history = append([]*alert.Alert(nil), e.history[over:]...)
	}
}

func (e *Engine) deliver(ctx context.Context, fired []*alert.Alert) {
	kind := notify.KindAlert
	if len(fired) > 1 {
		kind = notify.KindBatch
	}
	err := notify.Deliver(ctx, e.sink, fired, e.now())
	e.recorder.NotificationSent(string(kind), err)
	if err != nil {
		e.logger.Error("alert delivery failed", zap.Int("alerts", len(fired)), zap.Error(err))
	}

	if e.archive == nil {
		return
	}
	for _, a := range fired {
		if err := e.archive.SaveAlert(ctx, a); err != nil {
			e.logger.Error("failed to archive alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
}

// History returns up to limit of the most recent alerts, oldest first. A
// non-positive limit returns everything retained.
func (e *Engine) History(limit int) []*alert.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]*alert.Alert(nil), h...)
}

// Monitor evaluates every interval until ctx is cancelled. Cancellation is
// only observed between cycles; a running evaluation completes. Per-cycle
// errors are logged and the loop continues.
func (e *Engine) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = e.cfg.MonitorInterval
	}
	e.logger.Info("alert monitoring started", zap.Duration("interval", interval))
	for {
		if _, err := e.Evaluate(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("alert cycle failed", zap.Error(err))
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("alert monitoring stopped")
			return
		case <-timer.C:
		}
	}
}
