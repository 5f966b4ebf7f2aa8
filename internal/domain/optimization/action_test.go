package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	all := []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusReverted}
	allowed := map[Status][]Status{
		StatusPending:    {StatusInProgress},
		StatusInProgress: {StatusCompleted, StatusFailed},
		StatusCompleted:  {StatusReverted},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestActionFailedNeverCompletes(t *testing.T) {
	a := NewAction(TypeLatencyReduction, "latency", 10, RiskLow, TagPerformance)

	require.NoError(t, a.Transition(StatusInProgress))
	require.NoError(t, a.Transition(StatusFailed))

	assert.Error(t, a.Transition(StatusCompleted))
	assert.Error(t, a.Transition(StatusReverted))
	assert.Equal(t, StatusFailed, a.Status)
}

func TestActionCompletedOnlyReverts(t *testing.T) {
	a := NewAction(TypeQualityImprovement, "quality", 5, RiskMedium)

	assert.Error(t, a.Transition(StatusCompleted), "pending cannot skip in_progress")
	require.NoError(t, a.Transition(StatusInProgress))
	require.NoError(t, a.Transition(StatusCompleted))
	assert.Error(t, a.Transition(StatusFailed))
	require.NoError(t, a.Transition(StatusReverted))
	assert.True(t, a.Status.Terminal())
}

func TestStrategyFilter(t *testing.T) {
	perf := NewAction(TypeLatencyReduction, "latency", 20, RiskMedium, TagPerformance)
	cost := NewAction(TypeLoadRebalancing, "volume", 15, RiskHigh, TagCost, TagPrevention)
	health := NewAction(TypeHealthRecovery, "overall_performance_score", 25, RiskHigh, TagHealth)
	general := NewAction(TypeThresholdTuning, "quality", 5, RiskLow, TagGeneral)
	actions := []*Action{perf, cost, health, general}

	tests := []struct {
		name     string
		strategy Strategy
		health   float64
		want     []*Action
	}{
		{"performance first", StrategyPerformanceFirst, 0.9, []*Action{perf}},
		{"cost efficiency", StrategyCostEfficiency, 0.9, []*Action{cost}},
		{"reliability excludes high risk", StrategyReliabilityFocused, 0.9, []*Action{perf, general}},
		{"balanced caps at three", StrategyBalanced, 0.9, []*Action{perf, cost, health}},
		{"adaptive critical picks health", StrategyAdaptive, 0.3, []*Action{health}},
		{"adaptive degraded picks prevention", StrategyAdaptive, 0.6, []*Action{cost}},
		{"adaptive healthy picks general", StrategyAdaptive, 0.95, []*Action{general}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.strategy.Filter(actions, tt.health)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Len(t, actions, 4, "filter must not mutate input")
}

func TestAdaptiveHealthyCapsGeneralActions(t *testing.T) {
	var actions []*Action
	for i := 0; i < 5; i++ {
		actions = append(actions, NewAction(TypeThresholdTuning, "quality", float64(i), RiskLow, TagGeneral))
	}
	urgent := NewAction(TypeHealthRecovery, "overall_performance_score", 25, RiskMedium, TagHealth)
	mixed := append([]*Action{urgent}, actions...)

	got := StrategyAdaptive.Filter(mixed, 0.9)

	assert.Equal(t, actions[:3], got)
	assert.Len(t, mixed, 6, "input is not mutated")
}

func TestParseStrategy(t *testing.T) {
	for _, s := range Strategies {
		got, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStrategy("yolo")
	assert.Error(t, err)
}

func TestTuningNudge(t *testing.T) {
	cfg := &TuningConfig{Parameter: "quality_floor", CurrentValue: 0.5, Min: 0.3, Max: 0.6, Step: 0.05}

	assert.True(t, cfg.Nudge(0.8))
	assert.InDelta(t, 0.55, cfg.CurrentValue, 1e-9)
	assert.Equal(t, TuneUp, cfg.Direction)

	assert.True(t, cfg.Nudge(0.8))
	assert.InDelta(t, 0.6, cfg.CurrentValue, 1e-9)

	assert.False(t, cfg.Nudge(0.9), "clamped at max")
	assert.Equal(t, TuneHold, cfg.Direction)

	assert.False(t, cfg.Nudge(0.65), "inside deadband")

	assert.True(t, cfg.Nudge(0.2))
	assert.InDelta(t, 0.55, cfg.CurrentValue, 1e-9)
	assert.Equal(t, TuneDown, cfg.Direction)
}

func TestEnumTextRejectsUnknown(t *testing.T) {
	var typ Type
	require.NoError(t, typ.UnmarshalText([]byte("load_rebalancing")))
	assert.Equal(t, TypeLoadRebalancing, typ)
	assert.Error(t, typ.UnmarshalText([]byte("teleport")))

	var st Status
	require.NoError(t, st.UnmarshalText([]byte("reverted")))
	assert.Equal(t, StatusReverted, st)
	assert.Error(t, st.UnmarshalText([]byte("unknown")))

	var r Risk
	assert.Error(t, r.UnmarshalText([]byte("extreme")))
}
