package fib

import (
	"math"
	"sort"

	"github.com/sawpanic/spxsignals/internal/analytics/crossmarket"
	"github.com/sawpanic/spxsignals/internal/domain/indicators"
)

const minSwingBars = 4

// DetectSwing finds the swing range over bars, ignoring the last confirmation
// bars which have not yet confirmed an extreme.
func DetectSwing(bars []Bar, confirmation int) (Swing, bool) {
	if len(bars) < minSwingBars {
		return Swing{}, false
	}
	cutoff := len(bars) - confirmation
	if cutoff < 1 {
		cutoff = 1
	}
	candidates := bars[:cutoff]
	if len(candidates) < 2 {
		return Swing{}, false
	}

	high, low := math.Inf(-1), math.Inf(1)
	for _, b := range candidates {
		high = math.Max(high, b.High)
		low = math.Min(low, b.Low)
	}
	if math.IsInf(high, 0) || math.IsInf(low, 0) || high <= low {
		return Swing{}, false
	}

	return Swing{
		High:    high,
		Low:     low,
		TrendUp: candidates[len(candidates)-1].Close >= candidates[0].Close,
	}, true
}

// BuildLadder applies Ratios to swing.
func BuildLadder(swing Swing, tf Timeframe) []Level {
	span := swing.High - swing.Low
	levels := make([]Level, 0, len(Ratios))
	for _, ratio := range Ratios {
		extension := ratio > 1
		var price float64
		switch {
		case swing.TrendUp && extension:
			price = swing.High + span*(ratio-1)
		case swing.TrendUp:
			price = swing.High - span*ratio
		case extension:
			price = swing.Low - span*(ratio-1)
		default:
			price = swing.Low + span*ratio
		}

		dir := Retracement
		if extension {
			dir = Extension
		}
		levels = append(levels, Level{
			Ratio:     ratio,
			Price:     indicators.Round(price, 2),
			Timeframe: tf,
			Direction: dir,
			SwingHigh: indicators.Round(swing.High, 2),
			SwingLow:  indicators.Round(swing.Low, 2),
		})
	}
	return levels
}

// CrossValidate marks each SPX level that has a SPY level of the same ratio and
// timeframe within ClusterRadius points once converted through basis.
func CrossValidate(spx, spy []Level, basis float64) []Level {
	out := make([]Level, len(spx))
	copy(out, spx)
	for i := range out {
		for _, s := range spy {
			if s.Ratio != out[i].Ratio || s.Timeframe != out[i].Timeframe {
				continue
			}
			if math.Abs(crossmarket.ConvertSPYToSPX(s.Price, basis)-out[i].Price) <= ClusterRadius {
				out[i].CrossValidated = true
				break
			}
		}
	}
	return out
}

// cleanBars drops malformed rows and orders the rest by timestamp.
func cleanBars(bars []Bar) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !finite(b.High) || !finite(b.Low) || !finite(b.Close) {
			continue
		}
		if !finite(b.Open) {
			b.Open = 0
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
