package optimization

import "fmt"

// Strategy is the closed set of action selection policies.
type Strategy int

const (
	StrategyBalanced Strategy = iota
	StrategyPerformanceFirst
	StrategyCostEfficiency
	StrategyReliabilityFocused
	StrategyAdaptive
)

// Strategies lists every strategy in declaration order.
var Strategies = []Strategy{
	StrategyBalanced,
	StrategyPerformanceFirst,
	StrategyCostEfficiency,
	StrategyReliabilityFocused,
	StrategyAdaptive,
}

func (s Strategy) String() string {
	switch s {
	case StrategyBalanced:
		return "balanced"
	case StrategyPerformanceFirst:
		return "performance_first"
	case StrategyCostEfficiency:
		return "cost_efficiency"
	case StrategyReliabilityFocused:
		return "reliability_focused"
	case StrategyAdaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if st.String() == s {
			return st, nil
		}
	}
	return StrategyBalanced, fmt.Errorf("unknown optimization strategy %q", s)
}

// MaxGeneralActions caps the batch for balanced and healthy-adaptive selection.
// Healthy-adaptive selection only considers actions tagged TagGeneral.
const MaxGeneralActions = 3

// Health score bands used by adaptive selection.
const (
	criticalHealthBelow = 0.5
	degradedHealthBelow = 0.7
)

// Filter selects the actions this strategy allows, preserving input order.
// It never mutates its input.
func (s Strategy) Filter(actions []*Action, healthScore float64) []*Action {
	switch s {
	case StrategyPerformanceFirst:
		return filterPerformanceFirst(actions)
	case StrategyCostEfficiency:
		return filterCostEfficiency(actions)
	case StrategyReliabilityFocused:
		return filterReliabilityFocused(actions)
	case StrategyAdaptive:
		return filterAdaptive(actions, healthScore)
	default:
		return filterBalanced(actions)
	}
}

func filterPerformanceFirst(actions []*Action) []*Action {
	return keep(actions, func(a *Action) bool { return a.HasTag(TagPerformance) })
}

func filterCostEfficiency(actions []*Action) []*Action {
	return keep(actions, func(a *Action) bool { return a.HasTag(TagCost) })
}

func filterReliabilityFocused(actions []*Action) []*Action {
	return keep(actions, func(a *Action) bool { return a.Risk != RiskHigh })
}

func filterBalanced(actions []*Action) []*Action {
	return capped(actions, MaxGeneralActions)
}

func filterAdaptive(actions []*Action, healthScore float64) []*Action {
	switch {
	case healthScore < criticalHealthBelow:
		return keep(actions, func(a *Action) bool { return a.HasTag(TagHealth) })
	case healthScore < degradedHealthBelow:
		return keep(actions, func(a *Action) bool { return a.HasTag(TagPrevention) })
	default:
		return capped(keep(actions, func(a *Action) bool { return a.HasTag(TagGeneral) }), MaxGeneralActions)
	}
}

func keep(actions []*Action, pred func(*Action) bool) []*Action {
	out := make([]*Action, 0, len(actions))
	for _, a := range actions {
		if pred(a) {
			out = append(out, a)
		}
	}
	return out
}

func capped(actions []*Action, n int) []*Action {
	if len(actions) > n {
		actions = actions[:n]
	}
	return append([]*Action(nil), actions...)
}
