package predictive

import "time"

// volumeBuckets counts interactions per fixed period keyed by the period
// start. A period is emitted once it has ended and is never reopened, so the
// emitted series does not depend on how often the feed is read.
type volumeBuckets struct {
	period time.Duration
	keep   int
	counts map[time.Time]int
	next   time.Time
	floor  time.Time
}

func newVolumeBuckets(period time.Duration, keep int) *volumeBuckets {
	return &volumeBuckets{period: period, keep: keep, counts: make(map[time.Time]int)}
}

// count adds one interaction. It reports false when the interaction falls in
// a period that was already emitted.
func (v *volumeBuckets) count(at time.Time) bool {
	start := at.Truncate(v.period)
	if !v.next.IsZero() && start.Before(v.next) {
		return false
	}
	v.counts[start]++
	return true
}

// truncatedBefore marks data before t as possibly missing. Only the first
// emission honours it.
func (v *volumeBuckets) truncatedBefore(t time.Time) {
	if !v.next.IsZero() {
		return
	}
	if f := t.Truncate(v.period).Add(v.period); f.After(v.floor) {
		v.floor = f
	}
}

// close emits every period that ended at or before now, including empty ones
// after the first period with data.
func (v *volumeBuckets) close(now time.Time) []point {
	if v.next.IsZero() {
		if len(v.counts) == 0 {
			return nil
		}
		var first time.Time
		for start := range v.counts {
			if first.IsZero() || start.Before(first) {
				first = start
			}
		}
		if v.floor.After(first) {
			first = v.floor
		}
		v.next = first
		v.drop(first)
	}

	if v.keep > 0 {
		if limit := now.Truncate(v.period).Add(-time.Duration(v.keep) * v.period); v.next.Before(limit) {
			v.next = limit
			v.drop(limit)
		}
	}

	var out []point
	for !v.next.Add(v.period).After(now) {
		out = append(out, point{At: v.next, Value: float64(v.counts[v.next])})
		delete(v.counts, v.next)
		v.next = v.next.Add(v.period)
	}
	return out
}

func (v *volumeBuckets) drop(before time.Time) {
	for start := range v.counts {
		if start.Before(before) {
			delete(v.counts, start)
		}
	}
}
