package feed

import (
	"context"
	"sort"
	"sync"

	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

// DefaultCapacity bounds each unit's buffer when none is given.
const DefaultCapacity = 500

// MemoryFeed is an in-process bounded feed. Each unit keeps its most recent
// Capacity interactions; older ones are dropped first.
type MemoryFeed struct {
	mu       sync.RWMutex
	capacity int
	units    map[string][]sample.Interaction
}

func NewMemoryFeed(capacity int) *MemoryFeed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryFeed{
		capacity: capacity,
		units:    make(map[string][]sample.Interaction),
	}
}

// Record appends interactions for a unit.
func (f *MemoryFeed) Record(unit string, in ...sample.Interaction) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := append(f.units[unit], in...)
	if over := len(buf) - f.capacity; over > 0 {
		buf = append([]sample.Interaction(nil), buf[over:]...)
	}
	f.units[unit] = buf
}

// Append is Record behind the sample.Writer interface.
func (f *MemoryFeed) Append(ctx context.Context, unit string, in ...sample.Interaction) error {
	f.Record(unit, in...)
	return nil
}

func (f *MemoryFeed) Units(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.units))
	for u := range f.units {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (f *MemoryFeed) Recent(ctx context.Context, unit string, limit int) ([]sample.Interaction, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	buf := f.units[unit]
	if limit > 0 && len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return append([]sample.Interaction(nil), buf...), nil
}
