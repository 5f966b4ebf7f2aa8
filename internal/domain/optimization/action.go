package optimization

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusReverted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for v := StatusPending; v <= StatusReverted; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown action status %q", string(b))
}

// Terminal reports whether no further transition is possible except revert.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusReverted
}

// CanTransition encodes the action lifecycle:
// pending -> in_progress -> completed|failed, completed -> reverted.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusReverted
	default:
		return false
	}
}

type Type int

const (
	TypeQualityImprovement Type = iota
	TypeLatencyReduction
	TypeErrorReduction
	TypeCapacityScaling
	TypeLoadRebalancing
	TypeHealthRecovery
	TypeDriftRecalibration
	TypeThresholdTuning
)

func (t Type) String() string {
	switch t {
	case TypeQualityImprovement:
		return "quality_improvement"
	case TypeLatencyReduction:
		return "latency_reduction"
	case TypeErrorReduction:
		return "error_reduction"
	case TypeCapacityScaling:
		return "capacity_scaling"
	case TypeLoadRebalancing:
		return "load_rebalancing"
	case TypeHealthRecovery:
		return "health_recovery"
	case TypeDriftRecalibration:
		return "drift_recalibration"
	case TypeThresholdTuning:
		return "threshold_tuning"
	default:
		return "unknown"
	}
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	for v := TypeQualityImprovement; v <= TypeThresholdTuning; v++ {
		if v.String() == string(b) {
			*t = v
			return nil
		}
	}
	return fmt.Errorf("unknown action type %q", string(b))
}

type Risk int

const (
	RiskLow Risk = iota
	RiskMedium
	RiskHigh
)

func (r Risk) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

func (r Risk) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Risk) UnmarshalText(b []byte) error {
	for v := RiskLow; v <= RiskHigh; v++ {
		if v.String() == string(b) {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("unknown risk %q", string(b))
}

// Tag classifies what an action is for. Strategies filter on tags.
type Tag string

const (
	TagPerformance Tag = "performance"
	TagCost        Tag = "cost"
	TagReliability Tag = "reliability"
	TagHealth      Tag = "health"
	TagPrevention  Tag = "prevention"
	TagGeneral     Tag = "general"
)

// Action is a proposed change to the monitored system.
type Action struct {
	ID                  string          `json:"id"`
	Type                Type            `json:"type"`
	Unit                string          `json:"unit,omitempty"`
	TargetMetric        string          `json:"target_metric"`
	ExpectedImprovement float64         `json:"expected_improvement"`
	Risk                Risk            `json:"risk_level"`
	RollbackPlan        string          `json:"rollback_plan"`
	Tags                []Tag           `json:"tags"`
	Status              Status          `json:"status"`
	Reason              string          `json:"reason"`
	Priority            int             `json:"priority"`
	CostImpact          decimal.Decimal `json:"cost_impact"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func NewAction(actionType Type, targetMetric string, expected float64, risk Risk, tags ...Tag) *Action {
	now := time.Now()
	return &Action{
		ID:                  uuid.NewString(),
		Type:                actionType,
		TargetMetric:        targetMetric,
		ExpectedImprovement: expected,
		Risk:                risk,
		Tags:                tags,
		Status:              StatusPending,
		CostImpact:          decimal.Zero,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (a *Action) HasTag(tag Tag) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Transition moves the action to status or returns an error when the
// lifecycle forbids it.
func (a *Action) Transition(to Status) error {
	if !a.Status.CanTransition(to) {
		return fmt.Errorf("action %s: illegal transition %s -> %s", a.ID, a.Status, to)
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	return nil
}

func (a *Action) Clone() *Action {
	c := *a
	c.Tags = append([]Tag(nil), a.Tags...)
	return &c
}

// Result is the terminal outcome of executing one action.
type Result struct {
	ActionID          string             `json:"action_id"`
	ActionType        Type               `json:"action_type"`
	TargetMetric      string             `json:"target_metric"`
	Status            Status             `json:"status"`
	ActualImprovement float64            `json:"actual_improvement"`
	PerformanceImpact map[string]float64 `json:"performance_impact"`
	SideEffects       []string           `json:"side_effects,omitempty"`
	Duration          time.Duration      `json:"duration"`
	Error             string             `json:"error,omitempty"`
	CompletedAt       time.Time          `json:"completed_at"`
}

func (r *Result) Succeeded() bool {
	return r.Status == StatusCompleted
}
