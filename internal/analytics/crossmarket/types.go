// Package crossmarket estimates the SPX/SPY basis and projects SPY gamma levels
// onto SPX through that basis and a rolling regression between the two markets.
package crossmarket

import (
	"context"
	"errors"
	"time"
)

// SPYMultiplier is the natural SPX/SPY price ratio.
const SPYMultiplier = 10.0

// ErrNoLandscape is returned when no usable gamma landscape is available.
var ErrNoLandscape = errors.New("gex landscape unavailable")

type Trend string

const (
	TrendExpanding   Trend = "expanding"
	TrendContracting Trend = "contracting"
	TrendStable      Trend = "stable"
)

type Leader string

const (
	LeadingSPX     Leader = "SPX"
	LeadingSPY     Leader = "SPY"
	LeadingNeutral Leader = "neutral"
)

// BasisState is the SPX - 10*SPY spread together with its rolling statistics.
type BasisState struct {
	Current   float64   `json:"current"`
	Trend     Trend     `json:"trend"`
	Leading   Leader    `json:"leading"`
	EMA5      float64   `json:"ema5"`
	EMA20     float64   `json:"ema20"`
	ZScore    float64   `json:"zscore"`
	SPXPrice  float64   `json:"spxPrice"`
	SPYPrice  float64   `json:"spyPrice"`
	Timestamp time.Time `json:"timestamp"`
}

type ConfidenceBand struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// SpyImpactLevel is one SPY level projected onto SPX.
type SpyImpactLevel struct {
	Source          string         `json:"source"`
	SpyLevel        float64        `json:"spyLevel"`
	ProjectedSPX    float64        `json:"projectedSpx"`
	ImpactSPXPoints float64        `json:"impactSpxPoints"`
	Confidence      float64        `json:"confidence"`
	ConfidenceBand  ConfidenceBand `json:"confidenceBand"`
}

type Spot struct {
	SPX float64 `json:"spx"`
	SPY float64 `json:"spy"`
}

// SpyImpactState is the fitted SPX/SPY relationship plus the projected levels.
type SpyImpactState struct {
	Beta        float64          `json:"beta"`
	Correlation float64          `json:"correlation"`
	BasisUsed   float64          `json:"basisUsed"`
	Spot        Spot             `json:"spot"`
	Levels      []SpyImpactLevel `json:"levels"`
	Timestamp   time.Time        `json:"timestamp"`
}

// KeyLevel is a strike with notable gamma exposure.
type KeyLevel struct {
	Strike float64 `json:"strike"`
	GEX    float64 `json:"gex"`
	Type   string  `json:"type"`
}

// GEXProfile summarises dealer gamma exposure for one symbol.
type GEXProfile struct {
	Symbol    string     `json:"symbol"`
	SpotPrice float64    `json:"spotPrice"`
	NetGEX    float64    `json:"netGex"`
	FlipPoint float64    `json:"flipPoint"`
	CallWall  float64    `json:"callWall"`
	PutWall   float64    `json:"putWall"`
	KeyLevels []KeyLevel `json:"keyLevels"`
	Timestamp string     `json:"timestamp,omitempty"`
}

// UnifiedGEXLandscape is the per-symbol gamma picture produced by the options
// aggregator.
type UnifiedGEXLandscape struct {
	SPX      GEXProfile  `json:"spx"`
	SPY      GEXProfile  `json:"spy"`
	Combined *GEXProfile `json:"combined,omitempty"`
}

// LandscapeProvider supplies the current gamma landscape.
type LandscapeProvider interface {
	GetLandscape(ctx context.Context) (*UnifiedGEXLandscape, error)
}

// ConvertSPYToSPX maps a SPY price into SPX terms through the basis.
func ConvertSPYToSPX(spy, basis float64) float64 {
	return spy*SPYMultiplier + basis
}

// ConvertSPXToSPY maps an SPX price into SPY terms through the basis.
func ConvertSPXToSPY(spx, basis float64) float64 {
	return (spx - basis) / SPYMultiplier
}

// window keeps the most recent limit items, evicting the oldest first.
type window[T any] struct {
	items []T
	limit int
}

func newWindow[T any](limit int) window[T] {
	return window[T]{items: make([]T, 0, limit), limit: limit}
}

func (w *window[T]) push(v T) {
	if len(w.items) < w.limit {
		w.items = append(w.items, v)
		return
	}
	copy(w.items, w.items[1:])
	w.items[len(w.items)-1] = v
}

func (w *window[T]) len() int { return len(w.items) }

func (w *window[T]) last() (T, bool) {
	var zero T
	if len(w.items) == 0 {
		return zero, false
	}
	return w.items[len(w.items)-1], true
}

func (w *window[T]) snapshot() []T {
	return append([]T(nil), w.items...)
}
