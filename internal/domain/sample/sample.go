package sample

import (
	"context"
	"time"
)

// Interaction is one recorded unit of work from the metrics feed.
type Interaction struct {
	Timestamp      time.Time `json:"timestamp"`
	Quality        float64   `json:"quality"`
	LatencySeconds float64   `json:"latency_seconds"`
	Error          bool      `json:"error"`
	Tags           []string  `json:"tags,omitempty"`
}

// MetricSample is a single observation of a named metric.
type MetricSample struct {
	Timestamp  time.Time         `json:"timestamp"`
	MetricName string            `json:"metric_name"`
	Value      float64           `json:"value"`
	Context    map[string]string `json:"context,omitempty"`
}

// Source is the read-only metrics feed. Recent returns at most limit
// interactions for a unit, oldest first.
type Source interface {
	Units(ctx context.Context) ([]string, error)
	Recent(ctx context.Context, unit string, limit int) ([]Interaction, error)
}

// Writer appends interactions to the feed for a unit.
type Writer interface {
	Append(ctx context.Context, unit string, in ...Interaction) error
}

// Metric names derived from interactions.
const (
	MetricQuality   = "quality"
	MetricLatency   = "latency"
	MetricErrorRate = "error_rate"
	MetricVolume    = "volume"
)

// Qualities extracts quality values in order.
func Qualities(in []Interaction) []float64 {
	out := make([]float64, len(in))
	for i, it := range in {
		out[i] = it.Quality
	}
	return out
}

// Latencies extracts latency values in order.
func Latencies(in []Interaction) []float64 {
	out := make([]float64, len(in))
	for i, it := range in {
		out[i] = it.LatencySeconds
	}
	return out
}

// ErrorRates returns a rolling error rate: the fraction of errored
// interactions in the trailing window ending at each index.
func ErrorRates(in []Interaction, window int) []float64 {
	if window < 1 {
		window = 1
	}
	out := make([]float64, len(in))
	errs := 0
	for i, it := range in {
		if it.Error {
			errs++
		}
		if i >= window && in[i-window].Error {
			errs--
		}
		n := i + 1
		if n > window {
			n = window
		}
		out[i] = float64(errs) / float64(n)
	}
	return out
}

// Values extracts values from metric samples in order.
func Values(samples []MetricSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
