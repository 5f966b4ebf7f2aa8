package predictive

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
	"github.com/davidleathers/performance-control-loop/internal/service/analytics"
)

const (
	resourceVolume   = "interaction_volume"
	maxCapacitySteps = 5000
	scalingWindow    = 7 * 24 * time.Hour
)

// capacityForecast regresses per-period interaction volume and looks for the
// first projected period above CapacityHeadroom x the historical peak.
func (e *Engine) capacityForecast(now time.Time) (CapacityForecast, bool) {
	ps := e.hist.points(sample.MetricVolume)
	if len(ps) < e.cfg.CapacityMinSamples {
		if len(ps) > 0 {
			e.logger.Debug("capacity forecast skipped",
				zap.Error(errors.NewInsufficientDataError("capacity_forecast", len(ps), e.cfg.CapacityMinSamples)))
		}
		return CapacityForecast{}, false
	}
	values := e.hist.values(sample.MetricVolume)
	peak := values[0]
	for _, v := range values {
		peak = math.Max(peak, v)
	}
	if peak <= 0 {
		return CapacityForecast{}, false
	}

	period := e.cfg.CapacityPeriod
	threshold := e.cfg.CapacityHeadroom * peak
	slope, intercept, _ := analytics.FitLine(values)

	steps := int(math.Ceil(float64(e.cfg.CapacityHorizon) / float64(period)))
	if steps > maxCapacitySteps {
		steps = maxCapacitySteps
	}
	if steps < 1 {
		steps = 1
	}

	fc := CapacityForecast{
		ResourceType: resourceVolume,
		CurrentUtil:  values[len(values)-1] / threshold,
		Threshold:    threshold,
		Period:       period,
	}
	last := ps[len(ps)-1].At
	n := float64(len(values))
	for h := 1; h <= steps; h++ {
		predicted := intercept + slope*(n-1+float64(h))
		if h <= e.cfg.CapacityReportPoints {
			fc.PredictedUtil = append(fc.PredictedUtil, predicted/threshold)
		}
		if fc.BreachTime == nil && predicted > threshold {
			at := last.Add(time.Duration(h) * period)
			fc.BreachTime = &at
		}
		if fc.BreachTime != nil && h >= e.cfg.CapacityReportPoints {
			break
		}
	}

	if fc.BreachTime != nil && fc.BreachTime.Sub(now) <= scalingWindow {
		growth := slope / peak * float64(time.Hour/period) * 100
		fc.ScalingRecs = []string{
			fmt.Sprintf("Provision capacity for at least %.0f interactions per period before %s", math.Ceil(threshold), fc.BreachTime.Format(time.RFC3339)),
			fmt.Sprintf("Volume is growing about %.1f%% of peak per hour; review autoscaling limits", growth),
			"Enable load shedding for low priority work until capacity is added",
		}
	}
	return fc, true
}
