package optimization

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

// TuningChange records one auto-tuner adjustment.
type TuningChange struct {
	Parameter string                     `json:"parameter"`
	Unit      string                     `json:"unit,omitempty"`
	Observed  float64                    `json:"observed"`
	From      float64                    `json:"from"`
	To        float64                    `json:"to"`
	Direction optimization.TuneDirection `json:"direction"`
}

// AddTunable registers a parameter for auto-tuning. A tunable with an empty
// unit tracks the average across all units.
func (e *Engine) AddTunable(t optimization.TuningConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addTunable(t)
}

func (e *Engine) addTunable(t optimization.TuningConfig) error {
	switch {
	case t.Parameter == "":
		return errors.NewValidationError("INVALID_TUNABLE", "parameter is required")
	case t.Step <= 0:
		return errors.NewValidationError("INVALID_TUNABLE", "step must be positive")
	case t.Min > t.Max:
		return errors.NewValidationError("INVALID_TUNABLE", "min exceeds max")
	case t.CurrentValue < t.Min || t.CurrentValue > t.Max:
		return errors.NewValidationError("INVALID_TUNABLE", "current value is outside [min, max]")
	}
	for _, existing := range e.tunables {
		if existing.Parameter == t.Parameter && existing.Unit == t.Unit {
			return errors.NewConflictError(fmt.Sprintf("tunable %s/%s already exists", t.Parameter, t.Unit))
		}
	}
	if t.TargetMetric == "" {
		t.TargetMetric = sample.MetricQuality
	}
	e.tunables = append(e.tunables, &t)
	return nil
}

// autoTune nudges every tunable toward the recent average quality of its
// unit. Feed errors skip the affected tunable.
func (e *Engine) autoTune(ctx context.Context) []TuningChange {
	if e.source == nil {
		return nil
	}

	e.mu.RLock()
	tunables := make([]optimization.TuningConfig, len(e.tunables))
	for i, t := range e.tunables {
		tunables[i] = *t
	}
	e.mu.RUnlock()
	if len(tunables) == 0 {
		return nil
	}

	observed := make(map[string]float64)
	var changes []TuningChange
	for i := range tunables {
		t := &tunables[i]
		avg, ok := observed[t.Unit]
		if !ok {
			var err error
			avg, ok, err = e.recentQuality(ctx, t.Unit)
			if err != nil {
				e.logger.Warn("auto-tune skipped", zap.String("parameter", t.Parameter), zap.String("unit", t.Unit), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			observed[t.Unit] = avg
		}

		from := t.CurrentValue
		if !t.Nudge(avg) {
			continue
		}
		changes = append(changes, TuningChange{
			Parameter: t.Parameter,
			Unit:      t.Unit,
			Observed:  avg,
			From:      from,
			To:        t.CurrentValue,
			Direction: t.Direction,
		})
	}

	e.mu.Lock()
	for _, live := range e.tunables {
		for _, t := range tunables {
			if live.Parameter == t.Parameter && live.Unit == t.Unit {
				live.CurrentValue = t.CurrentValue
				live.Direction = t.Direction
			}
		}
	}
	e.mu.Unlock()

	for _, c := range changes {
		e.logger.Info("tunable adjusted",
			zap.String("parameter", c.Parameter),
			zap.String("unit", c.Unit),
			zap.Float64("observed", c.Observed),
			zap.Float64("from", c.From),
			zap.Float64("to", c.To))
	}
	return changes
}

// recentQuality averages the last TuningLookback qualities of a unit, or of
// every unit when unit is empty.
func (e *Engine) recentQuality(ctx context.Context, unit string) (float64, bool, error) {
	units := []string{unit}
	if unit == "" {
		all, err := e.source.Units(ctx)
		if err != nil {
			return 0, false, err
		}
		units = all
	}

	var values []float64
	for _, u := range units {
		in, err := e.source.Recent(ctx, u, e.cfg.TuningLookback)
		if err != nil {
			return 0, false, err
		}
		values = append(values, sample.Qualities(in)...)
	}
	if len(values) == 0 {
		return 0, false, nil
	}
	return stat.Mean(values, nil), true, nil
}
