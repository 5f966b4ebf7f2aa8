// Package fixtures builds deterministic inputs for control loop tests.
package fixtures

import (
	"time"

	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

// Epoch is a fixed base time so fixtures are reproducible.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func Constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func Linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// Alternating oscillates around center by +/- amp, starting high.
func Alternating(n int, center, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = center + amp
		} else {
			out[i] = center - amp
		}
	}
	return out
}

// Concat joins series in order.
func Concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Samples wraps values as metric samples spaced one minute apart.
func Samples(metric string, values []float64) []sample.MetricSample {
	out := make([]sample.MetricSample, len(values))
	for i, v := range values {
		out[i] = sample.MetricSample{
			Timestamp:  Epoch.Add(time.Duration(i) * time.Minute),
			MetricName: metric,
			Value:      v,
		}
	}
	return out
}

// Interactions pairs quality and latency values into interactions spaced one
// minute apart. The shorter slice is padded with its last value.
func Interactions(quality, latency []float64) []sample.Interaction {
	n := len(quality)
	if len(latency) > n {
		n = len(latency)
	}
	out := make([]sample.Interaction, n)
	for i := range out {
		out[i] = sample.Interaction{
			Timestamp:      Epoch.Add(time.Duration(i) * time.Minute),
			Quality:        at(quality, i),
			LatencySeconds: at(latency, i),
		}
	}
	return out
}

func at(xs []float64, i int) float64 {
	if len(xs) == 0 {
		return 0
	}
	if i >= len(xs) {
		return xs[len(xs)-1]
	}
	return xs[i]
}
