package predictive

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	driftMeanShift    = "mean_shift"
	driftDistribution = "distribution_shift"

	meanShiftFloor = 0.05
)

// driftAlerts splits each long enough series in half and compares the
// halves with a two-sample Kolmogorov-Smirnov test.
func (e *Engine) driftAlerts() []DriftAlert {
	var out []DriftAlert
	for _, metric := range e.hist.metrics() {
		values := e.hist.values(metric)
		n := len(values)
		if n < e.cfg.DriftMinSamples {
			continue
		}
		baseline := sortedCopy(values[:n/2])
		current := sortedCopy(values[n/2:])

		d := stat.KolmogorovSmirnov(baseline, nil, current, nil)
		p := ksPValue(d, len(baseline), len(current))
		if !(d > e.cfg.DriftStatistic || p < e.cfg.DriftPValue) {
			continue
		}

		m1 := stat.Mean(baseline, nil)
		m2 := stat.Mean(current, nil)
		shift := math.Abs(m2 - m1)
		if m1 != 0 {
			shift /= math.Abs(m1)
		}
		kind := driftDistribution
		if shift >= meanShiftFloor {
			kind = driftMeanShift
		}
		out = append(out, DriftAlert{
			ModelName:    metric,
			DriftType:    kind,
			Magnitude:    clamp01(shift),
			Statistic:    d,
			PValue:       p,
			BaselinePerf: m1,
			CurrentPerf:  m2,
		})
	}
	return out
}

func sortedCopy(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}

// ksPValue is the asymptotic Kolmogorov distribution tail probability for a
// two-sample statistic d with sizes n and m.
func ksPValue(d float64, n, m int) float64 {
	if n == 0 || m == 0 {
		return 1
	}
	en := math.Sqrt(float64(n) * float64(m) / float64(n+m))
	lambda := (en + 0.12 + 0.11/en) * d
	a2 := -2 * lambda * lambda

	const (
		eps1 = 0.001
		eps2 = 1e-8
	)
	fac, sum, prev := 2.0, 0.0, 0.0
	for j := 1; j <= 100; j++ {
		term := fac * math.Exp(a2*float64(j*j))
		sum += term
		if math.Abs(term) <= eps1*prev || math.Abs(term) <= eps2*sum {
			return clamp01(sum)
		}
		fac = -fac
		prev = math.Abs(term)
	}
	// the series does not converge for tiny lambda, where p is 1
	return 1
}
