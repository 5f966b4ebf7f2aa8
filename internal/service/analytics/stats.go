package analytics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// lineFit is an ordinary least squares fit of value against sample index.
type lineFit struct {
	N          int
	Intercept  float64
	Slope      float64
	R          float64 // Pearson correlation, 0 when undefined
	ResidualSE float64
	MeanX      float64
	Sxx        float64
}

func indexAxis(n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	return xs
}

// fitLine requires at least two points.
func fitLine(ys []float64) lineFit {
	n := len(ys)
	xs := indexAxis(n)
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)

	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		r = 0
	}

	var ssRes float64
	for i, y := range ys {
		d := y - (alpha + beta*xs[i])
		ssRes += d * d
	}
	se := 0.0
	if n > 2 {
		se = math.Sqrt(ssRes / float64(n-2))
	}

	meanX := stat.Mean(xs, nil)
	var sxx float64
	for _, x := range xs {
		sxx += (x - meanX) * (x - meanX)
	}

	return lineFit{
		N:          n,
		Intercept:  alpha,
		Slope:      beta,
		R:          r,
		ResidualSE: se,
		MeanX:      meanX,
		Sxx:        sxx,
	}
}

func (f lineFit) At(x float64) float64 {
	return f.Intercept + f.Slope*x
}

// predictionHalfWidth is the two-sided 95% prediction interval half width at x.
func (f lineFit) predictionHalfWidth(x float64) float64 {
	if f.N == 0 || f.Sxx == 0 {
		return 0
	}
	d := x - f.MeanX
	return z95 * f.ResidualSE * math.Sqrt(1+1/float64(f.N)+d*d/f.Sxx)
}

const z95 = 1.96

func meanStdDev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	if len(xs) == 1 {
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.Variance(xs, nil)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func tail(xs []float64, n int) []float64 {
	if n <= 0 || len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

// FitLine exposes the regression used by the forecaster to sibling packages.
func FitLine(ys []float64) (slope, intercept, r float64) {
	if len(ys) < 2 {
		return 0, mean(ys), 0
	}
	f := fitLine(ys)
	return f.Slope, f.Intercept, f.R
}
