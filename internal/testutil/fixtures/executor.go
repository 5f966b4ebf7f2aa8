package fixtures

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
)

// StubExecutor simulates actions with seeded randomness: each action succeeds
// with SuccessProbability and realizes a random share of its expected
// improvement.
type StubExecutor struct {
	mu                 sync.Mutex
	rng                *rand.Rand
	SuccessProbability float64
	Executed           []string
	RolledBack         []string
}

func NewStubExecutor(seed int64, successProbability float64) *StubExecutor {
	return &StubExecutor{
		rng:                rand.New(rand.NewSource(seed)),
		SuccessProbability: successProbability,
	}
}

func (e *StubExecutor) Execute(ctx context.Context, a *optimization.Action) (*optimization.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Executed = append(e.Executed, a.ID)
	if e.rng.Float64() >= e.SuccessProbability {
		return nil, errors.New("simulated execution failure")
	}
	realized := a.ExpectedImprovement * (0.5 + e.rng.Float64()*0.7)
	return &optimization.Outcome{
		ActualImprovement: realized,
		PerformanceImpact: map[string]float64{a.TargetMetric: realized},
	}, nil
}

func (e *StubExecutor) Rollback(ctx context.Context, a *optimization.Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.RolledBack = append(e.RolledBack, a.ID)
	return nil
}

// Step scripts one ScriptedExecutor call.
type Step struct {
	Improvement float64
	Err         error
}

// ScriptedExecutor returns Steps in order and repeats the last one.
type ScriptedExecutor struct {
	mu         sync.Mutex
	Steps      []Step
	Executed   []*optimization.Action
	RolledBack []string
}

func NewScriptedExecutor(steps ...Step) *ScriptedExecutor {
	return &ScriptedExecutor{Steps: steps}
}

func (e *ScriptedExecutor) Execute(ctx context.Context, a *optimization.Action) (*optimization.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := len(e.Executed)
	e.Executed = append(e.Executed, a.Clone())
	step := Step{Improvement: a.ExpectedImprovement}
	if len(e.Steps) > 0 {
		if i >= len(e.Steps) {
			i = len(e.Steps) - 1
		}
		step = e.Steps[i]
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &optimization.Outcome{
		ActualImprovement: step.Improvement,
		PerformanceImpact: map[string]float64{a.TargetMetric: step.Improvement},
	}, nil
}

func (e *ScriptedExecutor) Rollback(ctx context.Context, a *optimization.Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.RolledBack = append(e.RolledBack, a.ID)
	return nil
}

func (e *ScriptedExecutor) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Executed)
}
