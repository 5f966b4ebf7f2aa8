package predictive

import (
	"sort"
	"time"
)

type point struct {
	At    time.Time
	Value float64
}

// history keeps a bounded FIFO of points per metric.
type history struct {
	max    int
	series map[string][]point
}

func newHistory(max int) *history {
	return &history{max: max, series: make(map[string][]point)}
}

func (h *history) add(metric string, at time.Time, value float64) {
	s := append(h.series[metric], point{At: at, Value: value})
	if over := len(s) - h.max; over > 0 {
		s = append([]point(nil), s[over:]...)
	}
	h.series[metric] = s
}

func (h *history) len(metric string) int {
	return len(h.series[metric])
}

func (h *history) values(metric string) []float64 {
	s := h.series[metric]
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

func (h *history) points(metric string) []point {
	return h.series[metric]
}

// metrics returns metric names in sorted order.
func (h *history) metrics() []string {
	out := make([]string, 0, len(h.series))
	for m := range h.series {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// spacing is the mean interval between consecutive points, or 0.
func spacing(ps []point) time.Duration {
	if len(ps) < 2 {
		return 0
	}
	d := ps[len(ps)-1].At.Sub(ps[0].At) / time.Duration(len(ps)-1)
	if d < 0 {
		return 0
	}
	return d
}
