// Package fib builds multi-timeframe Fibonacci ladders for SPX and marks the
// levels confirmed by the matching SPY ladder.
package fib

import (
	"context"

	"github.com/sawpanic/spxsignals/internal/analytics/crossmarket"
)

type Timeframe string

const (
	Monthly  Timeframe = "monthly"
	Weekly   Timeframe = "weekly"
	Daily    Timeframe = "daily"
	Intraday Timeframe = "intraday"
)

type Direction string

const (
	Retracement Direction = "retracement"
	Extension   Direction = "extension"
)

// Ratios is the ladder applied to every swing. Ratios above 1 are extensions.
var Ratios = []float64{0.236, 0.382, 0.5, 0.618, 0.786, 1.272, 1.618, 2, 2.618}

type Level struct {
	Ratio          float64   `json:"ratio"`
	Price          float64   `json:"price"`
	Timeframe      Timeframe `json:"timeframe"`
	Direction      Direction `json:"direction"`
	SwingHigh      float64   `json:"swingHigh"`
	SwingLow       float64   `json:"swingLow"`
	CrossValidated bool      `json:"crossValidated"`
}

// Bar is one OHLC aggregate. Timestamp is unix milliseconds.
type Bar struct {
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Timestamp int64   `json:"t"`
}

// BarProvider supplies historical aggregates. Dates are YYYY-MM-DD.
type BarProvider interface {
	GetDailyAggregates(ctx context.Context, ticker, from, to string) ([]Bar, error)
	GetMinuteAggregates(ctx context.Context, ticker, date string) ([]Bar, error)
}

// BasisSource supplies the SPX/SPY basis when the caller did not pass one.
type BasisSource interface {
	GetBasisState(ctx context.Context, opts crossmarket.BasisOptions) (crossmarket.BasisState, error)
}

// Swing is a detected high/low range and its direction.
type Swing struct {
	High    float64
	Low     float64
	TrendUp bool
}
