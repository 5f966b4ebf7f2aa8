package optimization

import "context"

// Outcome is what an executor observed after applying an action.
// ActualImprovement is a percentage; negative values mean the target metric
// got worse.
type Outcome struct {
	ActualImprovement float64            `json:"actual_improvement"`
	PerformanceImpact map[string]float64 `json:"performance_impact,omitempty"`
	SideEffects       []string           `json:"side_effects,omitempty"`
}

// Executor applies actions to the monitored system. Implementations must be
// safe to call sequentially; the engine never calls them concurrently.
type Executor interface {
	Execute(ctx context.Context, action *Action) (*Outcome, error)
	Rollback(ctx context.Context, action *Action) error
}
