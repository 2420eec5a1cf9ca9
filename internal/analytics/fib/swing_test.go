package fib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingBars(n int, start, step float64) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		c := start + float64(i)*step
		bars[i] = Bar{Open: c, High: c + 2, Low: c - 2, Close: c, Timestamp: int64(i) * 60_000}
	}
	return bars
}

func TestDetectSwing(t *testing.T) {
	tests := []struct {
		name         string
		bars         []Bar
		confirmation int
		want         Swing
		wantOK       bool
	}{
		{name: "too few bars", bars: risingBars(3, 100, 1), confirmation: 1},
		{name: "single candidate", bars: risingBars(4, 100, 1), confirmation: 5},
		{
			name:         "rising",
			bars:         risingBars(10, 100, 1),
			confirmation: 2,
			want:         Swing{High: 109, Low: 98, TrendUp: true},
			wantOK:       true,
		},
		{
			name:         "falling",
			bars:         risingBars(10, 100, -1),
			confirmation: 3,
			want:         Swing{High: 102, Low: 92, TrendUp: false},
			wantOK:       true,
		},
		{
			name:         "flat range",
			bars:         []Bar{{High: 5, Low: 5, Close: 5}, {High: 5, Low: 5, Close: 5}, {High: 5, Low: 5, Close: 5}, {High: 5, Low: 5, Close: 5}},
			confirmation: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectSwing(tt.bars, tt.confirmation)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestBuildLadder(t *testing.T) {
	up := BuildLadder(Swing{High: 110, Low: 100, TrendUp: true}, Daily)
	require.Len(t, up, len(Ratios))

	byRatio := func(levels []Level, r float64) Level {
		for _, l := range levels {
			if l.Ratio == r {
				return l
			}
		}
		t.Fatalf("ratio %v missing", r)
		return Level{}
	}

	assert.Equal(t, 107.64, byRatio(up, 0.236).Price)
	assert.Equal(t, 105.0, byRatio(up, 0.5).Price)
	assert.Equal(t, 116.18, byRatio(up, 1.618).Price)
	assert.Equal(t, 126.18, byRatio(up, 2.618).Price)

	down := BuildLadder(Swing{High: 110, Low: 100, TrendUp: false}, Weekly)
	assert.Equal(t, 103.82, byRatio(down, 0.382).Price)
	assert.Equal(t, 90.0, byRatio(down, 2).Price)

	for _, l := range append(up, down...) {
		assert.Equal(t, l.Ratio > 1, l.Direction == Extension)
		assert.Equal(t, 110.0, l.SwingHigh)
		assert.Equal(t, 100.0, l.SwingLow)
		assert.False(t, l.CrossValidated)
	}
}

func TestCrossValidate(t *testing.T) {
	spx := []Level{
		{Ratio: 0.5, Price: 6000, Timeframe: Daily},
		{Ratio: 0.618, Price: 6010, Timeframe: Daily},
		{Ratio: 0.5, Price: 6000, Timeframe: Weekly},
	}
	spy := []Level{
		{Ratio: 0.5, Price: 599.8, Timeframe: Daily},   // 5999.90
		{Ratio: 0.618, Price: 600.5, Timeframe: Daily}, // 6006.90, outside radius
		{Ratio: 0.382, Price: 599.8, Timeframe: Weekly},
	}

	out := CrossValidate(spx, spy, 1.90)
	assert.True(t, out[0].CrossValidated)
	assert.False(t, out[1].CrossValidated)
	assert.False(t, out[2].CrossValidated)
	assert.False(t, spx[0].CrossValidated, "input must not be mutated")
}

func TestCleanBars(t *testing.T) {
	bars := []Bar{
		{High: 3, Low: 1, Close: 2, Timestamp: 30},
		{High: math.NaN(), Low: 1, Close: 2, Timestamp: 10},
		{High: 5, Low: 1, Close: math.Inf(1), Timestamp: 15},
		{Open: math.NaN(), High: 4, Low: 2, Close: 3, Timestamp: 20},
	}
	out := cleanBars(bars)
	require.Len(t, out, 2)
	assert.Equal(t, int64(20), out[0].Timestamp)
	assert.Equal(t, 0.0, out[0].Open)
	assert.Equal(t, int64(30), out[1].Timestamp)
}
