package crossmarket

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spxsignals/internal/analytics/coalesce"
	"github.com/sawpanic/spxsignals/internal/domain/indicators"
	"github.com/sawpanic/spxsignals/internal/infrastructure/cache"
	"github.com/sawpanic/spxsignals/internal/metrics"
)

const (
	ImpactCacheKey = "spx_command_center:spy_impact"
	ImpactCacheTTL = 15 * time.Second

	pairHistoryLimit      = 240
	pairEpsilon           = 1e-6
	minReturnSamples      = 20
	fullConfidenceSamples = 80
	maxImpactLevels       = 6
	maxExtraKeyLevels     = 4

	defaultBeta      = SPYMultiplier
	minBeta          = 8.0
	maxBeta          = 12.0
	maxCorrelation   = 0.99
	minBandHalfWidth = 1.25
)

// Source trust factors applied on top of the statistical confidence.
const (
	trustWall  = 1.0
	trustFlip  = 0.92
	trustOther = 0.84
)

// ImpactOptions controls one GetSpyImpactState call. Supplying Basis or Landscape
// bypasses the cache read.
type ImpactOptions struct {
	ForceRefresh bool
	Basis        *BasisState
	Landscape    *UnifiedGEXLandscape
}

type pricePair struct {
	spx float64
	spy float64
}

// Fit is the rolling regression of SPX point moves on SPY point moves.
type Fit struct {
	Beta        float64
	Correlation float64
	Samples     int
}

// ImpactProjector projects SPY gamma levels onto SPX using the basis and a rolling
// beta/correlation fit over a bounded price-pair history owned by the instance.
type ImpactProjector struct {
	basis      *BasisEstimator
	landscapes LandscapeProvider
	group      *coalesce.Group[SpyImpactState]
	now        func() time.Time

	mu    sync.Mutex
	pairs window[pricePair]
}

func NewImpactProjector(basis *BasisEstimator, landscapes LandscapeProvider, c cache.Cache, m *metrics.Registry) *ImpactProjector {
	return &ImpactProjector{
		basis:      basis,
		landscapes: landscapes,
		group:      coalesce.NewGroup[SpyImpactState]("spy_impact", c, m),
		now:        time.Now,
		pairs:      newWindow[pricePair](pairHistoryLimit),
	}
}

// GetSpyImpactState returns the projected SPY impact levels.
func (p *ImpactProjector) GetSpyImpactState(ctx context.Context, opts ImpactOptions) (SpyImpactState, error) {
	req := coalesce.Request{
		Key:           ImpactCacheKey,
		TTL:           ImpactCacheTTL,
		Force:         opts.ForceRefresh,
		SkipCacheRead: opts.Basis != nil || opts.Landscape != nil,
	}
	return p.group.Do(ctx, req, func(ctx context.Context) (SpyImpactState, error) {
		landscape := opts.Landscape
		if landscape == nil {
			if p.landscapes == nil {
				return SpyImpactState{}, ErrNoLandscape
			}
			var err error
			landscape, err = p.landscapes.GetLandscape(ctx)
			if err != nil {
				return SpyImpactState{}, fmt.Errorf("failed to load gex landscape: %w", err)
			}
			if landscape == nil {
				return SpyImpactState{}, ErrNoLandscape
			}
		}

		var basis BasisState
		if opts.Basis != nil {
			basis = *opts.Basis
		} else {
			if p.basis == nil {
				return SpyImpactState{}, fmt.Errorf("basis estimator not configured")
			}
			var err error
			basis, err = p.basis.GetBasisState(ctx, BasisOptions{ForceRefresh: opts.ForceRefresh, Landscape: landscape})
			if err != nil {
				return SpyImpactState{}, fmt.Errorf("failed to compute basis: %w", err)
			}
		}

		return p.Project(basis, landscape), nil
	})
}

// Project records the current spot pair and projects the SPY levels of landscape
// onto SPX.
func (p *ImpactProjector) Project(basis BasisState, landscape *UnifiedGEXLandscape) SpyImpactState {
	spot := Spot{SPX: landscape.SPX.SpotPrice, SPY: landscape.SPY.SpotPrice}
	if !validPrice(spot.SPX) || !validPrice(spot.SPY) {
		spot = Spot{SPX: basis.SPXPrice, SPY: basis.SPYPrice}
	}
	if validPrice(spot.SPX) && validPrice(spot.SPY) {
		p.recordPair(spot.SPX, spot.SPY)
	}

	fit := p.Fit()
	levels := make([]SpyImpactLevel, 0, 8)
	for _, c := range collectCandidates(landscape.SPY) {
		converted := ConvertSPYToSPX(c.price, basis.Current)
		projected := spot.SPX + (converted-spot.SPX)*fit.Beta/SPYMultiplier
		confidence := levelConfidence(fit, c.trust)
		halfWidth := math.Max(minBandHalfWidth,
			(1-confidence)*8+math.Abs(fit.Beta-defaultBeta)*0.9+math.Abs(basis.ZScore)*0.55)

		levels = append(levels, SpyImpactLevel{
			Source:          c.source,
			SpyLevel:        indicators.Round(c.price, 2),
			ProjectedSPX:    indicators.Round(projected, 2),
			ImpactSPXPoints: indicators.Round(projected-spot.SPX, 2),
			Confidence:      indicators.Round(confidence, 3),
			ConfidenceBand: ConfidenceBand{
				Low:  indicators.Round(projected-halfWidth, 2),
				High: indicators.Round(projected+halfWidth, 2),
			},
		})
	}

	sort.SliceStable(levels, func(i, j int) bool {
		di, dj := math.Abs(levels[i].ImpactSPXPoints), math.Abs(levels[j].ImpactSPXPoints)
		if di != dj {
			return di < dj
		}
		return levels[i].Confidence > levels[j].Confidence
	})
	if len(levels) > maxImpactLevels {
		levels = levels[:maxImpactLevels]
	}

	state := SpyImpactState{
		Beta:        indicators.Round(fit.Beta, 4),
		Correlation: indicators.Round(fit.Correlation, 4),
		BasisUsed:   indicators.Round(basis.Current, 2),
		Spot:        Spot{SPX: indicators.Round(spot.SPX, 2), SPY: indicators.Round(spot.SPY, 2)},
		Levels:      levels,
		Timestamp:   p.now().UTC(),
	}

	log.Info().
		Float64("beta", state.Beta).
		Float64("correlation", state.Correlation).
		Int("samples", fit.Samples).
		Int("levels", len(levels)).
		Msg("SPY impact levels updated")

	return state
}

// Fit computes beta and correlation from the recorded price pairs. Fewer than
// minReturnSamples paired moves, or no dispersion, yields beta 10 and correlation 0.
func (p *ImpactProjector) Fit() Fit {
	p.mu.Lock()
	pairs := p.pairs.snapshot()
	p.mu.Unlock()
	return fitPairs(pairs)
}

// PairCount reports how many price pairs are retained.
func (p *ImpactProjector) PairCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pairs.len()
}

func (p *ImpactProjector) recordPair(spx, spy float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.pairs.last(); ok &&
		math.Abs(last.spx-spx) < pairEpsilon && math.Abs(last.spy-spy) < pairEpsilon {
		return
	}
	p.pairs.push(pricePair{spx: spx, spy: spy})
}

func fitPairs(pairs []pricePair) Fit {
	if len(pairs) < 2 {
		return Fit{Beta: defaultBeta, Correlation: 0, Samples: 0}
	}
	moveSPX := make([]float64, 0, len(pairs)-1)
	moveSPY := make([]float64, 0, len(pairs)-1)
	for i := 1; i < len(pairs); i++ {
		moveSPX = append(moveSPX, pairs[i].spx-pairs[i-1].spx)
		moveSPY = append(moveSPY, pairs[i].spy-pairs[i-1].spy)
	}

	samples := len(moveSPX)
	if samples < minReturnSamples {
		return Fit{Beta: defaultBeta, Correlation: 0, Samples: samples}
	}

	cov, varSPX, varSPY := indicators.SampleCovariance(moveSPX, moveSPY)
	if varSPY < 1e-12 || varSPX < 1e-12 {
		return Fit{Beta: defaultBeta, Correlation: 0, Samples: samples}
	}

	return Fit{
		Beta:        indicators.Clamp(cov/varSPY, minBeta, maxBeta),
		Correlation: indicators.Clamp(cov/math.Sqrt(varSPY*varSPX), -maxCorrelation, maxCorrelation),
		Samples:     samples,
	}
}

func levelConfidence(fit Fit, trust float64) float64 {
	base := 0.35 +
		0.4*math.Min(1, float64(fit.Samples)/fullConfidenceSamples) +
		0.25*math.Min(1, math.Abs(fit.Correlation))
	base = indicators.Clamp(base, 0.25, 0.97)
	return indicators.Clamp(base*trust, 0.2, 0.98)
}

type candidate struct {
	source string
	price  float64
	trust  float64
}

func collectCandidates(profile GEXProfile) []candidate {
	seen := make(map[string]struct{})
	out := make([]candidate, 0, 3+maxExtraKeyLevels)
	add := func(source string, price, trust float64) bool {
		if !validPrice(price) {
			return false
		}
		key := indicators.RoundKey(price, 2)
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		out = append(out, candidate{source: source, price: price, trust: trust})
		return true
	}

	add("spy_call_wall", profile.CallWall, trustWall)
	add("spy_put_wall", profile.PutWall, trustWall)
	add("spy_flip_point", profile.FlipPoint, trustFlip)

	extras := 0
	for i, level := range profile.KeyLevels {
		if extras >= maxExtraKeyLevels {
			break
		}
		kind := level.Type
		if kind == "" {
			kind = "level"
		}
		if add(fmt.Sprintf("spy_key_%d_%s", i+1, kind), level.Strike, trustOther) {
			extras++
		}
	}
	return out
}
