package crossmarket

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spxsignals/internal/analytics/coalesce"
	"github.com/sawpanic/spxsignals/internal/domain/indicators"
	"github.com/sawpanic/spxsignals/internal/infrastructure/cache"
	"github.com/sawpanic/spxsignals/internal/metrics"
)

const (
	BasisCacheKey = "spx_command_center:basis"
	BasisCacheTTL = 15 * time.Second

	basisHistoryLimit   = 120
	basisTrendThreshold = 0.35
)

// BasisOptions controls one GetBasisState call.
type BasisOptions struct {
	ForceRefresh bool
	// Landscape, when set, supplies the spot prices and bypasses the cache read.
	Landscape *UnifiedGEXLandscape
}

// BasisEstimator tracks the SPX/SPY basis over a bounded rolling history owned by
// the instance.
type BasisEstimator struct {
	landscapes LandscapeProvider
	group      *coalesce.Group[BasisState]
	now        func() time.Time

	mu      sync.Mutex
	history window[float64]
}

func NewBasisEstimator(landscapes LandscapeProvider, c cache.Cache, m *metrics.Registry) *BasisEstimator {
	return &BasisEstimator{
		landscapes: landscapes,
		group:      coalesce.NewGroup[BasisState]("basis", c, m),
		now:        time.Now,
		history:    newWindow[float64](basisHistoryLimit),
	}
}

// GetBasisState returns the current basis state, from the shared cache when fresh.
func (e *BasisEstimator) GetBasisState(ctx context.Context, opts BasisOptions) (BasisState, error) {
	req := coalesce.Request{
		Key:           BasisCacheKey,
		TTL:           BasisCacheTTL,
		Force:         opts.ForceRefresh,
		SkipCacheRead: opts.Landscape != nil,
	}
	return e.group.Do(ctx, req, func(ctx context.Context) (BasisState, error) {
		landscape := opts.Landscape
		if landscape == nil {
			if e.landscapes == nil {
				return BasisState{}, ErrNoLandscape
			}
			var err error
			landscape, err = e.landscapes.GetLandscape(ctx)
			if err != nil {
				return BasisState{}, fmt.Errorf("failed to load gex landscape: %w", err)
			}
			if landscape == nil {
				return BasisState{}, ErrNoLandscape
			}
		}
		return e.Observe(landscape.SPX.SpotPrice, landscape.SPY.SpotPrice)
	})
}

// Observe records one SPX/SPY price pair and returns the resulting state.
func (e *BasisEstimator) Observe(spx, spy float64) (BasisState, error) {
	if !validPrice(spx) || !validPrice(spy) {
		return BasisState{}, fmt.Errorf("%w: invalid spot prices spx=%v spy=%v", ErrNoLandscape, spx, spy)
	}

	current := spx - spy*SPYMultiplier

	e.mu.Lock()
	e.history.push(current)
	history := e.history.snapshot()
	e.mu.Unlock()

	ema5 := indicators.EMA(history, 5)
	ema20 := indicators.EMA(history, 20)

	state := BasisState{
		Current:   indicators.Round(current, 2),
		Trend:     classifyTrend(ema5, ema20),
		Leading:   classifyLeader(current, ema20),
		EMA5:      indicators.Round(ema5, 2),
		EMA20:     indicators.Round(ema20, 2),
		ZScore:    indicators.Round(indicators.ZScore(current, history), 2),
		SPXPrice:  indicators.Round(spx, 2),
		SPYPrice:  indicators.Round(spy, 2),
		Timestamp: e.now().UTC(),
	}

	log.Info().
		Float64("basis", state.Current).
		Str("trend", string(state.Trend)).
		Str("leading", string(state.Leading)).
		Float64("zscore", state.ZScore).
		Int("samples", len(history)).
		Msg("SPX basis updated")

	return state, nil
}

// HistoryLen reports how many basis samples are retained.
func (e *BasisEstimator) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.len()
}

func classifyTrend(ema5, ema20 float64) Trend {
	spread := ema5 - ema20
	switch {
	case spread > basisTrendThreshold:
		return TrendExpanding
	case spread < -basisTrendThreshold:
		return TrendContracting
	default:
		return TrendStable
	}
}

func classifyLeader(current, ema20 float64) Leader {
	switch {
	case current > ema20+basisTrendThreshold:
		return LeadingSPX
	case current < ema20-basisTrendThreshold:
		return LeadingSPY
	default:
		return LeadingNeutral
	}
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
