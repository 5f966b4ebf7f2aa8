package alert

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	}
	return SeverityLow, fmt.Errorf("unknown severity %q", s)
}

type Category int

const (
	CategoryPerformanceDegradation Category = iota
	CategoryResourceExhaustion
	CategoryAnomalyDetection
	CategoryPredictiveWarning
	CategoryOptimizationOpportunity
)

// Categories lists every category in declaration order.
var Categories = []Category{
	CategoryPerformanceDegradation,
	CategoryResourceExhaustion,
	CategoryAnomalyDetection,
	CategoryPredictiveWarning,
	CategoryOptimizationOpportunity,
}

func (c Category) String() string {
	switch c {
	case CategoryPerformanceDegradation:
		return "performance_degradation"
	case CategoryResourceExhaustion:
		return "resource_exhaustion"
	case CategoryAnomalyDetection:
		return "anomaly_detection"
	case CategoryPredictiveWarning:
		return "predictive_warning"
	case CategoryOptimizationOpportunity:
		return "optimization_opportunity"
	default:
		return "unknown"
	}
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	for _, cat := range Categories {
		if cat.String() == string(b) {
			*c = cat
			return nil
		}
	}
	return fmt.Errorf("unknown category %q", string(b))
}

// DefaultCooldown is the re-fire interval used when a rule leaves it unset.
func (c Category) DefaultCooldown() time.Duration {
	switch c {
	case CategoryPerformanceDegradation:
		return 15 * time.Minute
	case CategoryAnomalyDetection:
		return 30 * time.Minute
	case CategoryResourceExhaustion:
		return 60 * time.Minute
	case CategoryPredictiveWarning:
		return 120 * time.Minute
	case CategoryOptimizationOpportunity:
		return 240 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// Direction says which side of a threshold is a violation.
type Direction int

const (
	DirectionAbove Direction = iota
	DirectionBelow
)

func (d Direction) String() string {
	if d == DirectionBelow {
		return "below"
	}
	return "above"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "above":
		*d = DirectionAbove
	case "below":
		*d = DirectionBelow
	default:
		return fmt.Errorf("unknown direction %q", string(b))
	}
	return nil
}

// Threshold is one metric bound within a rule.
type Threshold struct {
	Metric    string    `json:"metric" validate:"required"`
	Value     float64   `json:"value"`
	Direction Direction `json:"direction"`
}

// Violated reports whether value crosses the threshold strictly.
func (t Threshold) Violated(value float64) bool {
	if t.Direction == DirectionBelow {
		return value < t.Value
	}
	return value > t.Value
}

func (t Threshold) String() string {
	op := ">"
	if t.Direction == DirectionBelow {
		op = "<"
	}
	return fmt.Sprintf("%s %s %g", t.Metric, op, t.Value)
}

// Rule is an operator-managed alert rule.
type Rule struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Thresholds  []Threshold   `json:"metric_thresholds"`
	Severity    Severity      `json:"severity"`
	Category    Category      `json:"category"`
	Cooldown    time.Duration `json:"cooldown"`
	Enabled     bool          `json:"enabled"`
	LastFiredAt *time.Time    `json:"last_fired_at,omitempty"`
}

// NewRule builds an enabled rule with the category's default cooldown when
// cooldown is zero.
func NewRule(name string, category Category, severity Severity, cooldown time.Duration, thresholds ...Threshold) *Rule {
	if cooldown <= 0 {
		cooldown = category.DefaultCooldown()
	}
	return &Rule{
		ID:         uuid.NewString(),
		Name:       name,
		Thresholds: thresholds,
		Severity:   severity,
		Category:   category,
		Cooldown:   cooldown,
		Enabled:    true,
	}
}

// InCooldown reports whether the rule fired less than Cooldown before now.
func (r *Rule) InCooldown(now time.Time) bool {
	if r.LastFiredAt == nil {
		return false
	}
	return now.Sub(*r.LastFiredAt) < r.Cooldown
}

// NextEligible returns the first time the rule may fire again.
func (r *Rule) NextEligible() time.Time {
	if r.LastFiredAt == nil {
		return time.Time{}
	}
	return r.LastFiredAt.Add(r.Cooldown)
}

// Violation is a metric that crossed its threshold.
type Violation struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold string  `json:"threshold"`
}

// Check evaluates every threshold against values. Metrics absent from values
// are skipped. Results are ordered by metric name.
func (r *Rule) Check(values map[string]float64) []Violation {
	var out []Violation
	for _, t := range r.Thresholds {
		v, ok := values[t.Metric]
		if !ok || !t.Violated(v) {
			continue
		}
		out = append(out, Violation{Metric: t.Metric, Value: v, Threshold: t.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

func (r *Rule) Clone() *Rule {
	c := *r
	c.Thresholds = append([]Threshold(nil), r.Thresholds...)
	if r.LastFiredAt != nil {
		t := *r.LastFiredAt
		c.LastFiredAt = &t
	}
	return &c
}

// Alert is an immutable record of a rule firing.
type Alert struct {
	ID              string             `json:"id"`
	RuleID          string             `json:"rule_id"`
	RuleName        string             `json:"rule_name"`
	Severity        Severity           `json:"severity"`
	Category        Category           `json:"category"`
	Violations      []Violation        `json:"violated_metrics"`
	Thresholds      map[string]float64 `json:"thresholds"`
	Recommendations []string           `json:"recommendations"`
	Timestamp       time.Time          `json:"timestamp"`
}

// NewAlert builds the alert for a rule that fired at now.
func NewAlert(rule *Rule, violations []Violation, recommendations []string, now time.Time) *Alert {
	thresholds := make(map[string]float64, len(rule.Thresholds))
	for _, t := range rule.Thresholds {
		thresholds[t.Metric] = t.Value
	}
	return &Alert{
		ID:              uuid.NewString(),
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		Severity:        rule.Severity,
		Category:        rule.Category,
		Violations:      violations,
		Thresholds:      thresholds,
		Recommendations: recommendations,
		Timestamp:       now,
	}
}
