package optimization

import "math"

// TuneDirection records the last adjustment made by the auto-tuner.
type TuneDirection int

const (
	TuneHold TuneDirection = iota
	TuneUp
	TuneDown
)

func (d TuneDirection) String() string {
	switch d {
	case TuneUp:
		return "up"
	case TuneDown:
		return "down"
	default:
		return "hold"
	}
}

func (d TuneDirection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// TuningDeadband is how far the observed average must sit from the current
// value before the tuner moves.
const TuningDeadband = 0.1

// TuningConfig is one tunable parameter driven by a bang-bang controller.
type TuningConfig struct {
	Parameter    string        `json:"parameter"`
	Unit         string        `json:"unit"`
	CurrentValue float64       `json:"current_value"`
	TargetMetric string        `json:"target_metric"`
	Direction    TuneDirection `json:"direction"`
	Min          float64       `json:"min"`
	Max          float64       `json:"max"`
	Step         float64       `json:"step"`
}

// Nudge moves CurrentValue one step toward observed when the gap exceeds the
// deadband, clamped to [Min, Max]. It returns true when the value changed.
func (c *TuningConfig) Nudge(observed float64) bool {
	if math.IsNaN(observed) {
		c.Direction = TuneHold
		return false
	}
	prev := c.CurrentValue
	switch {
	case observed-c.CurrentValue > TuningDeadband:
		c.CurrentValue = math.Min(c.Max, c.CurrentValue+c.Step)
		c.Direction = TuneUp
	case c.CurrentValue-observed > TuningDeadband:
		c.CurrentValue = math.Max(c.Min, c.CurrentValue-c.Step)
		c.Direction = TuneDown
	default:
		c.Direction = TuneHold
	}
	if c.CurrentValue == prev {
		c.Direction = TuneHold
		return false
	}
	return true
}
