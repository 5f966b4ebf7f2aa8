package optimization

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
)

// Skip reasons reported when a cycle does nothing.
const (
	SkipDisabled = "optimization disabled"
	SkipCooldown = "inside cooldown window"
)

// Gate reasons for individual actions.
const (
	gateHighRisk   = "high risk under reliability_focused"
	gateInProgress = "same action type already in progress"
)

// Run performs one optimization cycle. A disabled engine or one inside its
// cooldown returns a skipped report. A snapshot failure stops the cycle with
// an IntegrationError before anything executes.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	if !e.cycle.TryLock() {
		return nil, errors.ErrCycleInFlight
	}
	defer e.cycle.Unlock()

	ctx, span := e.tracer.Start(ctx, "OptimizationEngine.Run")
	defer span.End()
	start := time.Now()
	now := e.now()

	e.mu.RLock()
	strategy := e.strategy
	reason := e.skipReason(now)
	e.mu.RUnlock()
	if reason != "" {
		span.SetAttributes(attribute.String("optimization.skip_reason", reason))
		e.logger.Debug("optimization cycle skipped", zap.String("reason", reason))
		return &Report{GeneratedAt: now, Strategy: strategy, Skipped: true, SkipReason: reason}, nil
	}

	snap, err := e.provider.Collect(ctx)
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypeIntegration) {
			err = errors.NewIntegrationError("snapshot", "failed to collect snapshot").WithCause(err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.recorder.CycleObserved(time.Since(start), err)
		e.logger.Warn("optimization cycle aborted", zap.Error(err))
		return nil, err
	}
	health := snap.HealthScore()
	e.recorder.SnapshotObserved(health, snap.ReliabilityScore())

	opps := extractOpportunities(snap)
	candidates := synthesize(opps)
	sortActions(candidates)
	selected := strategy.Filter(candidates, health)

	e.mu.Lock()
	batch, gated := e.gate(selected, strategy)
	if len(batch) > 0 {
		e.lastCycle = &now
	}
	e.mu.Unlock()

	results, aborted := e.execute(ctx, batch)
	validation := validate(results, e.cfg.SuccessThreshold)
	tuning := e.autoTune(ctx)

	report := &Report{
		GeneratedAt:   now,
		Strategy:      strategy,
		HealthScore:   health,
		Opportunities: opps,
		Execution: ExecutionSummary{
			Candidates: len(candidates),
			Selected:   len(selected),
			Gated:      gated,
			Executed:   len(results),
			Aborted:    len(aborted) > 0,
			Skipped:    ids(aborted),
		},
		Validation:       validation,
		TuningChanges:    tuning,
		EstimatedSavings: estimatedSavings(batch),
		Results:          results,
	}

	e.mu.Lock()
	report.StrategyEffectiveness = e.recordStrategy(strategy, validation)
	report.NextFocusAreas = e.nextFocusAreas(opps, results)
	report.Duration = time.Since(start)
	e.lastReport = report
	e.mu.Unlock()

	span.SetAttributes(
		attribute.String("optimization.strategy", strategy.String()),
		attribute.Int("optimization.executed", len(results)),
		attribute.Float64("optimization.success_rate", validation.SuccessRate))
	e.publish(ctx, report)
	e.recorder.CycleObserved(time.Since(start), nil)

	e.logger.Info("optimization cycle completed",
		zap.String("strategy", strategy.String()),
		zap.Int("opportunities", len(opps)),
		zap.Int("executed", len(results)),
		zap.Int("completed", validation.Completed),
		zap.Int("failed", validation.Failed),
		zap.Bool("aborted", report.Execution.Aborted),
		zap.Float64("success_rate", validation.SuccessRate))
	return report, nil
}

// skipReason must be called with mu held.
func (e *Engine) skipReason(now time.Time) string {
	if !e.enabled {
		return SkipDisabled
	}
	if e.lastCycle != nil && now.Sub(*e.lastCycle) < e.cfg.Cooldown {
		return SkipCooldown
	}
	return ""
}

// gate drops actions that must not run this cycle. It must be called with mu
// held.
func (e *Engine) gate(actions []*optimization.Action, strategy optimization.Strategy) ([]*optimization.Action, []GatedAction) {
	inProgress := make(map[optimization.Type]bool)
	for _, a := range e.actions {
		if a.Status == optimization.StatusInProgress {
			inProgress[a.Type] = true
		}
	}

	var batch []*optimization.Action
	var gated []GatedAction
	for _, a := range actions {
		switch {
		case strategy == optimization.StrategyReliabilityFocused && a.Risk == optimization.RiskHigh:
			gated = append(gated, GatedAction{ActionID: a.ID, Type: a.Type, Reason: gateHighRisk})
		case inProgress[a.Type]:
			gated = append(gated, GatedAction{ActionID: a.ID, Type: a.Type, Reason: gateInProgress})
		default:
			batch = append(batch, a)
		}
	}
	return batch, gated
}

// execute runs the batch in order. An action whose improvement falls below
// the negative safety threshold is rolled back and nothing after it runs.
func (e *Engine) execute(ctx context.Context, batch []*optimization.Action) ([]*optimization.Result, []*optimization.Action) {
	var results []*optimization.Result
	for i, a := range batch {
		res := e.executeOne(ctx, a)
		results = append(results, res)

		if res.Succeeded() && res.ActualImprovement < -e.cfg.SafetyThreshold {
			e.rollbackHarmful(ctx, a, res)
			e.archiveResult(ctx, res)
			e.recorder.BatchAborted()
			skipped := batch[i+1:]
			e.logger.Warn("optimization batch aborted",
				zap.String("action_id", a.ID),
				zap.String("type", a.Type.String()),
				zap.Float64("actual_improvement", res.ActualImprovement),
				zap.Float64("safety_threshold", -e.cfg.SafetyThreshold),
				zap.Int("skipped", len(skipped)))
			return results, skipped
		}
		e.archiveResult(ctx, res)
	}
	return results, nil
}

// executeOne registers the action and drives it to a terminal status.
func (e *Engine) executeOne(ctx context.Context, a *optimization.Action) *optimization.Result {
	e.mu.Lock()
	e.register(a)
	e.transition(a, optimization.StatusInProgress)
	view := a.Clone()
	e.mu.Unlock()

	started := time.Now()
	actx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	outcome, err := e.executor.Execute(actx, view)
	cancel()

	res := &optimization.Result{
		ActionID:     a.ID,
		ActionType:   a.Type,
		TargetMetric: a.TargetMetric,
		Duration:     time.Since(started),
		CompletedAt:  e.now(),
	}

	e.mu.Lock()
	if err != nil {
		e.transition(a, optimization.StatusFailed)
		e.failedTypes[a.Type]++
		res.Status = optimization.StatusFailed
		res.Error = errors.NewExecutionError(a.ID, "action failed").WithCause(err).Error()
	} else {
		e.transition(a, optimization.StatusCompleted)
		res.Status = optimization.StatusCompleted
		if outcome != nil {
			res.ActualImprovement = outcome.ActualImprovement
			res.PerformanceImpact = outcome.PerformanceImpact
			res.SideEffects = outcome.SideEffects
		}
	}
	e.appendResult(res)
	e.mu.Unlock()

	e.recorder.ActionFinished(a.Type.String(), res.Status.String())
	if err != nil {
		e.logger.Error("optimization action failed",
			zap.String("action_id", a.ID),
			zap.String("type", a.Type.String()),
			zap.Error(err))
	} else {
		e.logger.Info("optimization action completed",
			zap.String("action_id", a.ID),
			zap.String("type", a.Type.String()),
			zap.String("unit", a.Unit),
			zap.Float64("expected", a.ExpectedImprovement),
			zap.Float64("actual", res.ActualImprovement))
	}
	return res
}

// rollbackHarmful reverts an action that made things worse. The result keeps
// the measured improvement and notes the rollback.
func (e *Engine) rollbackHarmful(ctx context.Context, a *optimization.Action, res *optimization.Result) {
	e.mu.RLock()
	view := a.Clone()
	e.mu.RUnlock()

	if err := e.executor.Rollback(ctx, view); err != nil {
		e.logger.Error("rollback of harmful action failed", zap.String("action_id", a.ID), zap.Error(err))
		e.mu.Lock()
		res.SideEffects = append(res.SideEffects, fmt.Sprintf("rollback failed: %v", err))
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.transition(a, optimization.StatusReverted)
	res.Status = optimization.StatusReverted
	res.SideEffects = append(res.SideEffects, "rolled back after breaching the safety threshold")
	e.mu.Unlock()
	e.recorder.ActionFinished(a.Type.String(), optimization.StatusReverted.String())
}

func (e *Engine) archiveResult(ctx context.Context, res *optimization.Result) {
	if e.archive == nil {
		return
	}
	if err := e.archive.SaveResult(ctx, res); err != nil {
		e.logger.Error("failed to archive result", zap.String("action_id", res.ActionID), zap.Error(err))
	}
}

func ids(actions []*optimization.Action) []string {
	if len(actions) == 0 {
		return nil
	}
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.ID
	}
	return out
}
