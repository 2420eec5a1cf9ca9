package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEMA(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		period int
		want   float64
	}{
		{"empty", nil, 5, 0},
		{"single value", []float64{1.9}, 5, 1.9},
		{"constant series", []float64{2, 2, 2, 2, 2, 2, 2}, 5, 2},
		{"short series uses all values", []float64{1, 2}, 5, 2*(1.0/3.0) + 1*(2.0/3.0)},
		{"window of last period values", []float64{100, 100, 1, 1, 1}, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EMA(tt.values, tt.period), 1e-9)
		})
	}
}

func TestZScore(t *testing.T) {
	assert.Equal(t, 0.0, ZScore(5, nil))
	assert.Equal(t, 0.0, ZScore(5, []float64{5}))
	assert.Equal(t, 0.0, ZScore(1.9, []float64{1.9, 1.9, 1.9}))

	z := ZScore(3, []float64{1, 2, 3})
	assert.InDelta(t, 1.0/math.Sqrt(2.0/3.0), z, 1e-9)
}

func TestSampleCovariance(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{10, 20, 30, 40}
	cov, varX, varY := SampleCovariance(x, y)
	assert.InDelta(t, 16.6666667, cov, 1e-6)
	assert.InDelta(t, 1.6666667, varX, 1e-6)
	assert.InDelta(t, 166.666667, varY, 1e-6)

	cov, varX, varY = SampleCovariance([]float64{1}, []float64{2})
	assert.Zero(t, cov)
	assert.Zero(t, varX)
	assert.Zero(t, varY)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 8.0, Clamp(3, 8, 12))
	assert.Equal(t, 12.0, Clamp(40, 8, 12))
	assert.Equal(t, 9.5, Clamp(9.5, 8, 12))
	assert.Equal(t, 8.0, Clamp(math.NaN(), 8, 12))
	assert.Equal(t, 12.0, Clamp(math.Inf(1), 8, 12))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.9, Round(6032.40-603.05*10, 2))
	assert.Equal(t, 5812.35, Round(5812.345, 2))
	assert.Equal(t, -2.5, Round(-2.45, 1))
	assert.Equal(t, "6005.4", RoundKey(6005.44, 1))
	assert.Equal(t, "603.10", RoundKey(603.1, 2))
}
