// Package optimization turns analytics and predictive findings into actions,
// executes them one at a time through an Executor and reports the outcome.
package optimization

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
	"github.com/davidleathers/performance-control-loop/internal/metrics"
	"github.com/davidleathers/performance-control-loop/internal/service/aggregator"
	"github.com/davidleathers/performance-control-loop/internal/service/notify"
)

// SnapshotProvider is satisfied by *aggregator.Aggregator.
type SnapshotProvider interface {
	Collect(ctx context.Context) (*aggregator.Snapshot, error)
}

// Archive keeps execution results durably.
type Archive interface {
	SaveResult(ctx context.Context, r *optimization.Result) error
}

// Config for the engine. SafetyThreshold is a percentage: a result below its
// negative aborts the rest of the batch.
type Config struct {
	Enabled          bool                  `koanf:"enabled"`
	Strategy         optimization.Strategy `koanf:"strategy"`
	Cooldown         time.Duration         `koanf:"cooldown"`
	SafetyThreshold  float64               `koanf:"safety_threshold"`
	SuccessThreshold float64               `koanf:"success_threshold"`
	RollingWindow    int                   `koanf:"rolling_window"`
	TuningLookback   int                   `koanf:"tuning_lookback"`
	ActionTimeout    time.Duration         `koanf:"action_timeout"`
	MaxResults       int                   `koanf:"max_results"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Strategy:         optimization.StrategyBalanced,
		Cooldown:         time.Hour,
		SafetyThreshold:  10,
		SuccessThreshold: 0.7,
		RollingWindow:    10,
		TuningLookback:   20,
		ActionTimeout:    2 * time.Minute,
		MaxResults:       500,
	}
}

// Engine owns the action registry, result history and tunables. Run, Revert
// and the cycle lock guarantee a single cycle in flight; mu guards state read
// by status queries while a cycle runs.
type Engine struct {
	cycle sync.Mutex
	mu    sync.RWMutex

	cfg       Config
	provider  SnapshotProvider
	executor  optimization.Executor
	source    sample.Source
	enabled   bool
	strategy  optimization.Strategy
	lastCycle *time.Time

	actions     map[string]*optimization.Action
	order       []string
	results     []*optimization.Result
	failedTypes map[optimization.Type]int
	tunables    []*optimization.TuningConfig
	stats       map[optimization.Strategy]*StrategyStats
	lastReport  *Report

	sink     notify.Sink
	archive  Archive
	recorder metrics.Recorder
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Engine)

func WithSink(sink notify.Sink) Option {
	return func(e *Engine) { e.sink = sink }
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

// WithSource enables auto-tuning against the metrics feed.
func WithSource(source sample.Source) Option {
	return func(e *Engine) { e.source = source }
}

// WithTunables seeds the auto-tuner. Invalid entries are skipped and logged.
func WithTunables(tunables ...optimization.TuningConfig) Option {
	return func(e *Engine) {
		for _, t := range tunables {
			if err := e.addTunable(t); err != nil {
				e.logger.Warn("skipping invalid tunable", zap.String("parameter", t.Parameter), zap.Error(err))
			}
		}
	}
}

// NewEngine wires an engine. A nil executor falls back to DryRun.
func NewEngine(provider SnapshotProvider, executor optimization.Executor, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Cooldown < 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.SafetyThreshold <= 0 {
		cfg.SafetyThreshold = def.SafetyThreshold
	}
	if cfg.SuccessThreshold <= 0 || cfg.SuccessThreshold > 1 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = def.RollingWindow
	}
	if cfg.TuningLookback <= 0 {
		cfg.TuningLookback = def.TuningLookback
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if executor == nil {
		logger.Warn("no optimization executor configured, actions run dry")
		executor = DryRun{}
	}

	e := &Engine{
		cfg:         cfg,
		provider:    provider,
		executor:    executor,
		enabled:     cfg.Enabled,
		strategy:    cfg.Strategy,
		actions:     make(map[string]*optimization.Action),
		failedTypes: make(map[optimization.Type]int),
		stats:       make(map[optimization.Strategy]*StrategyStats),
		sink:        notify.Discard{},
		recorder:    metrics.Nop{},
		logger:      logger,
		tracer:      otel.Tracer("controlloop.optimization"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
	e.logger.Info("optimization toggled", zap.Bool("enabled", enabled))
}

func (e *Engine) SetStrategy(s optimization.Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategy = s
	e.logger.Info("optimization strategy changed", zap.String("strategy", s.String()))
}

func (e *Engine) Strategy() optimization.Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strategy
}

// Status is the operator view of the engine.
type Status struct {
	Enabled            bool                        `json:"enabled"`
	Strategy           optimization.Strategy       `json:"strategy"`
	InFlight           int                         `json:"in_flight_actions"`
	RollingSuccessRate float64                     `json:"rolling_success_rate"`
	RecentResults      int                         `json:"recent_results"`
	TotalActions       int                         `json:"total_actions"`
	LastCycleAt        *time.Time                  `json:"last_cycle_at,omitempty"`
	NextEligibleAt     *time.Time                  `json:"next_eligible_at,omitempty"`
	Tunables           []optimization.TuningConfig `json:"tunables,omitempty"`
}

func (e *Engine) Status() *Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := &Status{
		Enabled:      e.enabled,
		Strategy:     e.strategy,
		TotalActions: len(e.actions),
	}
	for _, a := range e.actions {
		if a.Status == optimization.StatusInProgress {
			s.InFlight++
		}
	}

	recent := e.results
	if len(recent) > e.cfg.RollingWindow {
		recent = recent[len(recent)-e.cfg.RollingWindow:]
	}
	s.RecentResults = len(recent)
	if len(recent) > 0 {
		ok := 0
		for _, r := range recent {
			if r.Succeeded() {
				ok++
			}
		}
		s.RollingSuccessRate = float64(ok) / float64(len(recent))
	}

	if e.lastCycle != nil {
		last := *e.lastCycle
		next := last.Add(e.cfg.Cooldown)
		s.LastCycleAt = &last
		s.NextEligibleAt = &next
	}
	for _, t := range e.tunables {
		s.Tunables = append(s.Tunables, *t)
	}
	return s
}

// Actions returns copies of every registered action, oldest first.
func (e *Engine) Actions() []*optimization.Action {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*optimization.Action, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.actions[id].Clone())
	}
	return out
}

// Results returns up to limit of the most recent results, oldest first.
func (e *Engine) Results(limit int) []*optimization.Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r := e.results
	if limit > 0 && len(r) > limit {
		r = r[len(r)-limit:]
	}
	return append([]*optimization.Result(nil), r...)
}

func (e *Engine) LastReport() *Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReport
}

// Revert runs the rollback plan of a completed action and marks it reverted.
func (e *Engine) Revert(ctx context.Context, actionID string) (*optimization.Action, error) {
	if !e.cycle.TryLock() {
		return nil, errors.ErrCycleInFlight
	}
	defer e.cycle.Unlock()

	e.mu.RLock()
	a, ok := e.actions[actionID]
	var snapshot *optimization.Action
	if ok {
		snapshot = a.Clone()
	}
	e.mu.RUnlock()
	if !ok {
		return nil, errors.ErrActionNotFound
	}
	if !snapshot.Status.CanTransition(optimization.StatusReverted) {
		return nil, errors.NewConflictError(fmt.Sprintf("action %s is %s and cannot be reverted", actionID, snapshot.Status))
	}

	if err := e.executor.Rollback(ctx, snapshot); err != nil {
		e.logger.Error("rollback failed", zap.String("action_id", actionID), zap.Error(err))
		return nil, errors.NewExecutionError(actionID, "rollback failed").WithCause(err)
	}

	e.mu.Lock()
	e.transition(a, optimization.StatusReverted)
	out := a.Clone()
	e.mu.Unlock()

	e.recorder.ActionFinished(out.Type.String(), out.Status.String())
	e.logger.Info("action reverted",
		zap.String("action_id", actionID),
		zap.String("type", out.Type.String()),
		zap.String("rollback_plan", out.RollbackPlan))
	return out, nil
}

// transition must be called with mu held.
func (e *Engine) transition(a *optimization.Action, to optimization.Status) {
	if err := a.Transition(to); err != nil {
		e.logger.Error("action transition rejected", zap.Error(err))
	}
}

// register must be called with mu held.
func (e *Engine) register(a *optimization.Action) {
	e.actions[a.ID] = a
	e.order = append(e.order, a.ID)
	if over := len(e.order) - e.cfg.MaxResults; over > 0 {
		kept := e.order[:0]
		for _, id := range e.order {
			if over > 0 && e.actions[id].Status.Terminal() {
				delete(e.actions, id)
				over--
				continue
			}
			kept = append(kept, id)
		}
		e.order = kept
	}
}

// appendResult must be called with mu held.
func (e *Engine) appendResult(r *optimization.Result) {
	e.results = append(e.results, r)
	if over := len(e.results) - e.cfg.MaxResults; over > 0 {
		e.results = append([]*optimization.Result(nil), e.results[over:]...)
	}
}

// DryRun is the executor used when none is configured. It applies nothing
// and reports no improvement.
type DryRun struct{}

func (DryRun) Execute(ctx context.Context, a *optimization.Action) (*optimization.Outcome, error) {
	return &optimization.Outcome{
		PerformanceImpact: map[string]float64{a.TargetMetric: 0},
		SideEffects:       []string{"dry run: no change applied"},
	}, nil
}

func (DryRun) Rollback(ctx context.Context, a *optimization.Action) error {
	return nil
}
