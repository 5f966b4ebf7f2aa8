package fixtures

import (
	"context"
	"sort"
	"sync"

	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

// Source is a programmable sample.Source.
type Source struct {
	mu        sync.Mutex
	Data      map[string][]sample.Interaction
	UnitsErr  error
	RecentErr map[string]error
	Calls     int
}

func NewSource(data map[string][]sample.Interaction) *Source {
	if data == nil {
		data = map[string][]sample.Interaction{}
	}
	return &Source{Data: data, RecentErr: map[string]error{}}
}

func (s *Source) Set(unit string, in []sample.Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data[unit] = in
}

func (s *Source) Units(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.UnitsErr != nil {
		return nil, s.UnitsErr
	}
	out := make([]string, 0, len(s.Data))
	for u := range s.Data {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Source) Recent(ctx context.Context, unit string, limit int) ([]sample.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.RecentErr[unit]; err != nil {
		return nil, err
	}
	in := s.Data[unit]
	if limit > 0 && len(in) > limit {
		in = in[len(in)-limit:]
	}
	return append([]sample.Interaction(nil), in...), nil
}
