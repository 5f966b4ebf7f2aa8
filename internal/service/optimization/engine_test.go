package optimization

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainerrors "github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
	"github.com/davidleathers/performance-control-loop/internal/service/aggregator"
	"github.com/davidleathers/performance-control-loop/internal/service/analytics"
	"github.com/davidleathers/performance-control-loop/internal/service/notify"
	"github.com/davidleathers/performance-control-loop/internal/service/predictive"
	"github.com/davidleathers/performance-control-loop/internal/testutil/fixtures"
)

type stubProvider struct {
	mu      sync.Mutex
	snap    *aggregator.Snapshot
	err     error
	calls   int
	block   chan struct{}
	entered chan struct{}
}

func (p *stubProvider) Collect(ctx context.Context) (*aggregator.Snapshot, error) {
	p.mu.Lock()
	p.calls++
	block, entered := p.block, p.entered
	p.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return p.snap, p.err
}

func (p *stubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSink struct {
	mu       sync.Mutex
	payloads []notify.Payload
}

func (s *recordingSink) Send(ctx context.Context, p notify.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return nil
}

type fakeArchive struct {
	mu      sync.Mutex
	results []*optimization.Result
}

func (a *fakeArchive) SaveResult(ctx context.Context, r *optimization.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
	return nil
}

// testSnapshot yields four candidate actions. Sorted by risk they are
// error_reduction (low), latency_reduction, quality_improvement (medium) and
// capacity_scaling (high).
func testSnapshot() *aggregator.Snapshot {
	breach := fixtures.Epoch.Add(30 * time.Hour)
	return &aggregator.Snapshot{
		GeneratedAt: fixtures.Epoch,
		Analytics: &analytics.Snapshot{
			Health: analytics.HealthBreakdown{Score: 0.9, Status: analytics.HealthGood},
			Recommendations: []analytics.Recommendation{
				{Priority: analytics.PriorityHigh, Focus: analytics.FocusQuality, Unit: "a", Message: "quality low on a"},
				{Priority: analytics.PriorityMedium, Focus: analytics.FocusLatency, Unit: "b", Message: "latency creeping on b"},
				{Priority: analytics.PriorityCritical, Focus: analytics.FocusReliability, Unit: "b", Message: "errors on b"},
			},
		},
		Predictive: &predictive.Insights{
			GeneratedAt:      fixtures.Epoch,
			ReliabilityScore: 0.8,
			CapacityForecasts: []predictive.CapacityForecast{
				{ResourceType: "volume", CurrentUtil: 0.85, Threshold: 100, BreachTime: &breach},
			},
		},
	}
}

func newTestEngine(t *testing.T, provider SnapshotProvider, exec optimization.Executor, opts ...Option) (*Engine, *clock) {
	t.Helper()
	c := &clock{t: fixtures.Epoch}
	opts = append([]Option{WithClock(c.Now)}, opts...)
	return NewEngine(provider, exec, DefaultConfig(), zaptest.NewLogger(t), opts...), c
}

func executedTypes(exec *fixtures.ScriptedExecutor) []optimization.Type {
	var out []optimization.Type
	for _, a := range exec.Executed {
		out = append(out, a.Type)
	}
	return out
}

func TestRunBalanced(t *testing.T) {
	exec := fixtures.NewScriptedExecutor()
	sink := &recordingSink{}
	archive := &fakeArchive{}
	e, _ := newTestEngine(t, &stubProvider{snap: testSnapshot()}, exec, WithSink(sink), WithArchive(archive))

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Skipped)
	assert.Equal(t, []optimization.Type{
		optimization.TypeErrorReduction,
		optimization.TypeLatencyReduction,
		optimization.TypeQualityImprovement,
	}, executedTypes(exec))
	assert.Equal(t, 4, report.Execution.Candidates)
	assert.Equal(t, 3, report.Execution.Selected)
	assert.False(t, report.Execution.Aborted)

	assert.Equal(t, 3, report.Validation.Completed)
	assert.InDelta(t, 1.0, report.Validation.SuccessRate, 1e-9)
	assert.True(t, report.Validation.OverallSuccess)
	assert.Len(t, archive.results, 3)

	// error_reduction saves 20, latency_reduction costs 40.
	assert.True(t, report.EstimatedSavings.Equal(decimal.RequireFromString("-20")), report.EstimatedSavings.String())

	require.Len(t, report.StrategyEffectiveness, 1)
	assert.Equal(t, optimization.StrategyBalanced, report.StrategyEffectiveness[0].Strategy)
	assert.Equal(t, 3, report.StrategyEffectiveness[0].Executed)

	require.Len(t, sink.payloads, 1)
	assert.Equal(t, notify.KindSummary, sink.payloads[0].Kind)
	assert.Equal(t, "info", sink.payloads[0].Severity)
	assert.Contains(t, sink.payloads[0].Content, "Optimization cycle (balanced)")
	assert.Same(t, report, e.LastReport())
}

func TestRunReliabilityFocusedNeverExecutesHighRisk(t *testing.T) {
	exec := fixtures.NewScriptedExecutor()
	e, _ := newTestEngine(t, &stubProvider{snap: testSnapshot()}, exec)
	e.SetStrategy(optimization.StrategyReliabilityFocused)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.NotContains(t, executedTypes(exec), optimization.TypeCapacityScaling)
	for _, a := range exec.Executed {
		assert.NotEqual(t, optimization.RiskHigh, a.Risk)
	}
	assert.Equal(t, 3, report.Execution.Executed)
}

func TestRunAdaptiveHealthyRunsGeneralActionsOnly(t *testing.T) {
	snap := testSnapshot()
	snap.Analytics.Recommendations = snap.Analytics.Recommendations[:1]
	exec := fixtures.NewScriptedExecutor()
	e, _ := newTestEngine(t, &stubProvider{snap: snap}, exec)
	e.SetStrategy(optimization.StrategyAdaptive)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []optimization.Type{optimization.TypeQualityImprovement}, executedTypes(exec),
		"capacity scaling is not routine tuning")
	assert.Equal(t, 2, report.Execution.Candidates)
	assert.Equal(t, 1, report.Execution.Selected)
}

func TestGateHighRiskUnderReliability(t *testing.T) {
	e, _ := newTestEngine(t, &stubProvider{}, fixtures.NewScriptedExecutor())
	risky := optimization.NewAction(optimization.TypeCapacityScaling, "capacity_utilization", 30, optimization.RiskHigh, optimization.TagPerformance)
	safe := optimization.NewAction(optimization.TypeErrorReduction, "error_rate", 20, optimization.RiskLow, optimization.TagReliability)

	batch, gated := e.gate([]*optimization.Action{risky, safe}, optimization.StrategyReliabilityFocused)
	assert.Equal(t, []*optimization.Action{safe}, batch)
	require.Len(t, gated, 1)
	assert.Equal(t, gateHighRisk, gated[0].Reason)

	batch, gated = e.gate([]*optimization.Action{risky, safe}, optimization.StrategyBalanced)
	assert.Len(t, batch, 2)
	assert.Empty(t, gated)
}

func TestGateSameTypeInProgress(t *testing.T) {
	e, _ := newTestEngine(t, &stubProvider{}, fixtures.NewScriptedExecutor())
	running := optimization.NewAction(optimization.TypeLatencyReduction, "avg_latency", 15, optimization.RiskMedium)
	require.NoError(t, running.Transition(optimization.StatusInProgress))
	e.register(running)

	next := optimization.NewAction(optimization.TypeLatencyReduction, "avg_latency", 15, optimization.RiskMedium)
	batch, gated := e.gate([]*optimization.Action{next}, optimization.StrategyBalanced)
	assert.Empty(t, batch)
	require.Len(t, gated, 1)
	assert.Equal(t, gateInProgress, gated[0].Reason)
}

func TestRunSafetyAbort(t *testing.T) {
	tests := []struct {
		name        string
		second      float64
		wantAborted bool
	}{
		{"at threshold keeps going", -10, false},
		{"below threshold aborts", -20, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := fixtures.NewScriptedExecutor(
				fixtures.Step{Improvement: 5},
				fixtures.Step{Improvement: tt.second},
				fixtures.Step{Improvement: 5},
			)
			e, _ := newTestEngine(t, &stubProvider{snap: testSnapshot()}, exec)

			report, err := e.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantAborted, report.Execution.Aborted)

			if !tt.wantAborted {
				assert.Equal(t, 3, exec.Count())
				assert.Empty(t, exec.RolledBack)
				return
			}

			assert.Equal(t, 2, exec.Count(), "nothing after the harmful action runs")
			harmful := exec.Executed[1]
			assert.Equal(t, []string{harmful.ID}, exec.RolledBack)
			assert.Len(t, report.Execution.Skipped, 1)
			assert.Equal(t, 2, report.Validation.Total)
			assert.Equal(t, 1, report.Validation.Completed)
			assert.Equal(t, 1, report.Validation.Reverted)
			assert.False(t, report.Validation.OverallSuccess)

			actions := e.Actions()
			require.Len(t, actions, 2, "skipped actions are never registered")
			assert.Equal(t, optimization.StatusCompleted, actions[0].Status)
			assert.Equal(t, optimization.StatusReverted, actions[1].Status)
		})
	}
}

func TestRunFailedActionIsTerminal(t *testing.T) {
	exec := fixtures.NewScriptedExecutor(
		fixtures.Step{Err: errors.New("executor unavailable")},
		fixtures.Step{Improvement: 5},
	)
	e, _ := newTestEngine(t, &stubProvider{snap: testSnapshot()}, exec)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, exec.Count(), "no same-cycle retry")
	assert.Equal(t, 1, report.Validation.Failed)
	assert.Equal(t, 2, report.Validation.Completed)
	assert.InDelta(t, 2.0/3.0, report.Validation.SuccessRate, 1e-9)
	assert.False(t, report.Validation.OverallSuccess)

	results := e.Results(0)
	require.Len(t, results, 3)
	assert.Equal(t, optimization.StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "executor unavailable")

	failed := e.Actions()[0]
	assert.Equal(t, optimization.StatusFailed, failed.Status)
	_, err = e.Revert(context.Background(), failed.ID)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeConflict))
	assert.Equal(t, optimization.StatusFailed, e.Actions()[0].Status)

	assert.Len(t, report.NextFocusAreas, 3)
	assert.Contains(t, report.NextFocusAreas, "error_reduction: failed 1 time(s), investigate before retrying")
}

func TestRunCooldown(t *testing.T) {
	provider := &stubProvider{snap: testSnapshot()}
	e, c := newTestEngine(t, provider, fixtures.NewScriptedExecutor())

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	c.Advance(30 * time.Minute)
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, SkipCooldown, report.SkipReason)
	assert.Equal(t, 1, provider.Calls())

	c.Advance(31 * time.Minute)
	report, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 2, provider.Calls())
}

func TestRunDisabled(t *testing.T) {
	provider := &stubProvider{snap: testSnapshot()}
	exec := fixtures.NewScriptedExecutor()
	e, _ := newTestEngine(t, provider, exec)
	e.SetEnabled(false)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, SkipDisabled, report.SkipReason)
	assert.Zero(t, provider.Calls())
	assert.Zero(t, exec.Count())
}

func TestRunIntegrationFailure(t *testing.T) {
	exec := fixtures.NewScriptedExecutor()
	e, _ := newTestEngine(t, &stubProvider{err: errors.New("feed down")}, exec)

	report, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeIntegration))
	assert.Zero(t, exec.Count())
	assert.Nil(t, e.Status().LastCycleAt, "a failed cycle does not start the cooldown")
}

func TestOneCycleInFlight(t *testing.T) {
	provider := &stubProvider{
		snap:    testSnapshot(),
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	e, _ := newTestEngine(t, provider, fixtures.NewScriptedExecutor())

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background())
		done <- err
	}()
	<-provider.entered

	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, domainerrors.ErrCycleInFlight)
	_, err = e.Revert(context.Background(), "any")
	assert.ErrorIs(t, err, domainerrors.ErrCycleInFlight)

	close(provider.block)
	require.NoError(t, <-done)
}

func TestRevert(t *testing.T) {
	exec := fixtures.NewScriptedExecutor()
	e, _ := newTestEngine(t, &stubProvider{snap: testSnapshot()}, exec)
	_, err := e.Run(context.Background())
	require.NoError(t, err)

	target := e.Actions()[0]
	reverted, err := e.Revert(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, optimization.StatusReverted, reverted.Status)
	assert.Equal(t, []string{target.ID}, exec.RolledBack)

	_, err = e.Revert(context.Background(), target.ID)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeConflict))

	_, err = e.Revert(context.Background(), "missing")
	assert.ErrorIs(t, err, domainerrors.ErrActionNotFound)
}

func TestStatus(t *testing.T) {
	exec := fixtures.NewScriptedExecutor(
		fixtures.Step{Improvement: 5},
		fixtures.Step{Err: errors.New("boom")},
		fixtures.Step{Improvement: 5},
	)
	e, _ := newTestEngine(t, &stubProvider{snap: testSnapshot()}, exec)

	s := e.Status()
	assert.True(t, s.Enabled)
	assert.Nil(t, s.NextEligibleAt)

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	s = e.Status()
	assert.Equal(t, optimization.StrategyBalanced, s.Strategy)
	assert.Zero(t, s.InFlight)
	assert.Equal(t, 3, s.TotalActions)
	assert.Equal(t, 3, s.RecentResults)
	assert.InDelta(t, 2.0/3.0, s.RollingSuccessRate, 1e-9)
	require.NotNil(t, s.LastCycleAt)
	assert.Equal(t, fixtures.Epoch, *s.LastCycleAt)
	assert.Equal(t, fixtures.Epoch.Add(time.Hour), *s.NextEligibleAt)
}

func TestAutoTune(t *testing.T) {
	source := fixtures.NewSource(map[string][]sample.Interaction{
		"a": fixtures.Interactions(fixtures.Constant(20, 0.9), fixtures.Constant(20, 1)),
	})
	e, _ := newTestEngine(t, &stubProvider{snap: testSnapshot()}, fixtures.NewScriptedExecutor(),
		WithSource(source),
		WithTunables(
			optimization.TuningConfig{Parameter: "quality_floor", Unit: "a", CurrentValue: 0.5, Min: 0.3, Max: 0.8, Step: 0.05},
			optimization.TuningConfig{Parameter: "global_floor", CurrentValue: 0.85, Min: 0.3, Max: 0.95, Step: 0.05},
		))

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.TuningChanges, 1, "global_floor sits inside the deadband")
	c := report.TuningChanges[0]
	assert.Equal(t, "quality_floor", c.Parameter)
	assert.Equal(t, optimization.TuneUp, c.Direction)
	assert.InDelta(t, 0.9, c.Observed, 1e-9)
	assert.InDelta(t, 0.55, c.To, 1e-9)

	tunables := e.Status().Tunables
	require.Len(t, tunables, 2)
	assert.InDelta(t, 0.55, tunables[0].CurrentValue, 1e-9)
	assert.Equal(t, sample.MetricQuality, tunables[0].TargetMetric)
	assert.InDelta(t, 0.85, tunables[1].CurrentValue, 1e-9)
}

func TestAddTunable(t *testing.T) {
	e, _ := newTestEngine(t, &stubProvider{}, nil)
	valid := optimization.TuningConfig{Parameter: "quality_floor", CurrentValue: 0.5, Min: 0.3, Max: 0.8, Step: 0.05}

	tests := []struct {
		name string
		cfg  optimization.TuningConfig
	}{
		{"missing parameter", optimization.TuningConfig{CurrentValue: 0.5, Max: 1, Step: 0.1}},
		{"zero step", optimization.TuningConfig{Parameter: "p", CurrentValue: 0.5, Max: 1}},
		{"inverted range", optimization.TuningConfig{Parameter: "p", Min: 1, Max: 0, Step: 0.1}},
		{"outside range", optimization.TuningConfig{Parameter: "p", CurrentValue: 2, Max: 1, Step: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.AddTunable(tt.cfg)
			assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
		})
	}

	require.NoError(t, e.AddTunable(valid))
	err := e.AddTunable(valid)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeConflict))
}

func TestDryRunExecutor(t *testing.T) {
	e, _ := newTestEngine(t, &stubProvider{snap: testSnapshot()}, nil)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Validation.Completed)
	for _, r := range report.Results {
		assert.Zero(t, r.ActualImprovement)
		assert.NotEmpty(t, r.SideEffects)
	}
}
