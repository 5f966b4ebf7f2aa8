package alert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdViolated(t *testing.T) {
	tests := []struct {
		name      string
		threshold Threshold
		value     float64
		want      bool
	}{
		{"above crossed", Threshold{Metric: "latency", Value: 2, Direction: DirectionAbove}, 2.5, true},
		{"above equal", Threshold{Metric: "latency", Value: 2, Direction: DirectionAbove}, 2, false},
		{"below crossed", Threshold{Metric: "overall_performance_score", Value: 0.5, Direction: DirectionBelow}, 0.4, true},
		{"below not crossed", Threshold{Metric: "overall_performance_score", Value: 0.5, Direction: DirectionBelow}, 0.6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.threshold.Violated(tt.value))
		})
	}
}

func TestRuleCooldown(t *testing.T) {
	rule := NewRule("score", CategoryPerformanceDegradation, SeverityHigh, 0)
	assert.Equal(t, 15*time.Minute, rule.Cooldown)

	now := time.Now()
	assert.False(t, rule.InCooldown(now))

	rule.LastFiredAt = &now
	assert.True(t, rule.InCooldown(now.Add(5*time.Minute)))
	assert.False(t, rule.InCooldown(now.Add(15*time.Minute)))
	assert.Equal(t, now.Add(15*time.Minute), rule.NextEligible())
}

func TestRuleCheck(t *testing.T) {
	rule := NewRule("multi", CategoryResourceExhaustion, SeverityMedium, time.Hour,
		Threshold{Metric: "latency", Value: 3},
		Threshold{Metric: "error_rate", Value: 0.1},
		Threshold{Metric: "missing", Value: 1},
	)

	violations := rule.Check(map[string]float64{"latency": 4, "error_rate": 0.2})

	require.Len(t, violations, 2)
	assert.Equal(t, "error_rate", violations[0].Metric)
	assert.Equal(t, "latency", violations[1].Metric)
	assert.Equal(t, "latency > 3", violations[1].Threshold)
}

func TestRuleCloneIsolated(t *testing.T) {
	now := time.Now()
	rule := NewRule("r", CategoryAnomalyDetection, SeverityLow, 0, Threshold{Metric: "m", Value: 1})
	rule.LastFiredAt = &now

	clone := rule.Clone()
	clone.Thresholds[0].Value = 9
	later := now.Add(time.Hour)
	clone.LastFiredAt = &later

	assert.Equal(t, 1.0, rule.Thresholds[0].Value)
	assert.Equal(t, now, *rule.LastFiredAt)
}

func TestEnumsRoundTripAsText(t *testing.T) {
	in := Threshold{Metric: "quality", Value: 0.6, Direction: DirectionBelow}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric":"quality","value":0.6,"direction":"below"}`, string(b))

	var sev Severity
	require.NoError(t, sev.UnmarshalText([]byte("critical")))
	assert.Equal(t, SeverityCritical, sev)

	var cat Category
	assert.Error(t, cat.UnmarshalText([]byte("nope")))
}
