package indicators

import (
	"math"

	"github.com/shopspring/decimal"
)

// EMA computes an exponential moving average with k = 2/(period+1) over the most
// recent period values, seeded from the first value of that window. Shorter
// inputs use every value available.
func EMA(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}
	window := values
	if len(window) > period {
		window = window[len(window)-period:]
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := window[0]
	for _, v := range window[1:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// MeanStdDev returns the mean and population standard deviation of values.
func MeanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// ZScore scores value against values. Histories shorter than two samples or with
// no dispersion score 0.
func ZScore(value float64, values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean, stddev := MeanStdDev(values)
	if stddev < 1e-9 {
		return 0
	}
	return (value - mean) / stddev
}

// SampleCovariance returns the n-1 covariance of x and y along with both sample
// variances. Inputs must have equal length of at least two.
func SampleCovariance(x, y []float64) (cov, varX, varY float64) {
	n := len(x)
	if n < 2 || len(y) != n {
		return 0, 0, 0
	}
	var meanX, meanY float64
	for i := 0; i < n; i++ {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= float64(n)
	meanY /= float64(n)
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	d := float64(n - 1)
	return cov / d, varX / d, varY / d
}

// Clamp bounds v to [lo, hi]. NaN clamps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round rounds half away from zero to the given number of decimal places.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// RoundKey renders v rounded to places, for use in cache and dedup keys.
func RoundKey(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}
