package fib

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/spxsignals/internal/analytics/coalesce"
	"github.com/sawpanic/spxsignals/internal/analytics/crossmarket"
	"github.com/sawpanic/spxsignals/internal/infrastructure/cache"
	"github.com/sawpanic/spxsignals/internal/metrics"
)

const (
	CacheKeyPrefix = "spx_command_center:fib_levels"
	CacheTTL       = 30 * time.Second

	// ClusterRadius is the SPX point distance within which a converted SPY level
	// confirms an SPX level.
	ClusterRadius = 3.0

	shortLookbackDays = 40
	longLookbackDays  = 180
	weeklyBars        = 65
	minShortBars      = 25
	minLongBars       = 60

	// Relative move of the intraday high or low that invalidates the cached ladder.
	significantSwingShift = 0.003

	dateLayout = "2006-01-02"
)

// Options controls one GetFibLevels call. Basis or BasisCurrent, when given,
// replace the basis lookup and bypass the cache read.
type Options struct {
	ForceRefresh bool
	Basis        *crossmarket.BasisState
	BasisCurrent *float64
	AsOfDate     string
	IntradayHigh float64
	IntradayLow  float64
}

type Engine struct {
	bars  BarProvider
	basis BasisSource
	group *coalesce.Group[[]Level]
	now   func() time.Time

	mu        sync.Mutex
	swingDate string
	swingHigh float64
	swingLow  float64
}

func NewEngine(bars BarProvider, basis BasisSource, c cache.Cache, m *metrics.Registry) *Engine {
	return &Engine{
		bars:  bars,
		basis: basis,
		group: coalesce.NewGroup[[]Level]("fib_levels", c, m),
		now:   time.Now,
	}
}

// CacheKey returns the shared cache key of the ladder for asOfDate.
func CacheKey(asOfDate string) string {
	return CacheKeyPrefix + ":" + asOfDate
}

// GetFibLevels returns the SPX ladder for the as-of date sorted ascending by price.
func (e *Engine) GetFibLevels(ctx context.Context, opts Options) ([]Level, error) {
	asOf := e.normalizeDate(opts.AsOfDate)

	force := opts.ForceRefresh
	if !force && opts.IntradayHigh > 0 && opts.IntradayLow > 0 &&
		e.swingShifted(opts.IntradayHigh, opts.IntradayLow, asOf) {
		log.Info().
			Float64("high", opts.IntradayHigh).
			Float64("low", opts.IntradayLow).
			Str("as_of", asOf).
			Msg("Intraday swing shifted, forcing fibonacci refresh")
		force = true
	}

	precomputed := opts.Basis != nil || (opts.BasisCurrent != nil && finite(*opts.BasisCurrent))
	req := coalesce.Request{
		Key:           CacheKey(asOf),
		TTL:           CacheTTL,
		Force:         force,
		SkipCacheRead: precomputed,
	}
	return e.group.Do(ctx, req, func(ctx context.Context) ([]Level, error) {
		return e.compute(ctx, asOf, opts, force)
	})
}

func (e *Engine) compute(ctx context.Context, asOf string, opts Options, force bool) ([]Level, error) {
	var (
		basis    float64
		spx, spy []Level
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		switch {
		case opts.BasisCurrent != nil && finite(*opts.BasisCurrent):
			basis = *opts.BasisCurrent
		case opts.Basis != nil:
			basis = opts.Basis.Current
		default:
			if e.basis == nil {
				return fmt.Errorf("basis source not configured")
			}
			state, err := e.basis.GetBasisState(gctx, crossmarket.BasisOptions{ForceRefresh: force})
			if err != nil {
				return fmt.Errorf("failed to get basis: %w", err)
			}
			basis = state.Current
		}
		return nil
	})
	g.Go(func() error {
		var err error
		spx, err = e.computeSet(gctx, "SPX", asOf)
		return err
	})
	g.Go(func() error {
		var err error
		spy, err = e.computeSet(gctx, "SPY", asOf)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := CrossValidate(spx, spy, basis)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Price < merged[j].Price })

	validated := 0
	for _, l := range merged {
		if l.CrossValidated {
			validated++
		}
	}
	log.Info().
		Str("as_of", asOf).
		Int("count", len(merged)).
		Int("cross_validated", validated).
		Msg("SPX fibonacci levels updated")

	return merged, nil
}

func (e *Engine) computeSet(ctx context.Context, symbol, asOf string) ([]Level, error) {
	ticker := symbol
	if symbol == "SPX" {
		ticker = "I:SPX"
	}

	var short, long, intraday []Bar
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bars, err := e.bars.GetDailyAggregates(gctx, ticker, dateOffset(asOf, shortLookbackDays), asOf)
		if err != nil {
			return fmt.Errorf("failed to fetch %s daily bars: %w", ticker, err)
		}
		short = cleanBars(bars)
		return nil
	})
	g.Go(func() error {
		bars, err := e.bars.GetDailyAggregates(gctx, ticker, dateOffset(asOf, longLookbackDays), asOf)
		if err != nil {
			return fmt.Errorf("failed to fetch %s long daily bars: %w", ticker, err)
		}
		long = cleanBars(bars)
		return nil
	})
	g.Go(func() error {
		bars, err := e.bars.GetMinuteAggregates(gctx, ticker, asOf)
		if err != nil {
			return fmt.Errorf("failed to fetch %s minute bars: %w", ticker, err)
		}
		intraday = cleanBars(bars)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(short) < minShortBars {
		log.Warn().Str("symbol", symbol).Int("bars", len(short)).Int("need", minShortBars).
			Str("as_of", asOf).Msg("Insufficient daily data for daily fibonacci")
	}
	if len(long) < minLongBars {
		log.Warn().Str("symbol", symbol).Int("bars", len(long)).Int("need", minLongBars).
			Str("as_of", asOf).Msg("Insufficient daily data for monthly and weekly fibonacci")
	}

	levels := make([]Level, 0, 4*len(Ratios))
	if len(long) >= minLongBars {
		if swing, ok := DetectSwing(long, 3); ok {
			levels = append(levels, BuildLadder(swing, Monthly)...)
		}
		recent := long
		if len(recent) > weeklyBars {
			recent = recent[len(recent)-weeklyBars:]
		}
		if swing, ok := DetectSwing(recent, 2); ok {
			levels = append(levels, BuildLadder(swing, Weekly)...)
		}
	}
	if len(short) >= minShortBars {
		if swing, ok := DetectSwing(short, 2); ok {
			levels = append(levels, BuildLadder(swing, Daily)...)
		}
	}
	if swing, ok := DetectSwing(intraday, 5); ok {
		levels = append(levels, BuildLadder(swing, Intraday)...)
	}
	return levels, nil
}

// swingShifted reports whether the intraday extremes moved at least
// significantSwingShift since the last significant observation for date. A new
// date resets tracking.
func (e *Engine) swingShifted(high, low float64, date string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if date != e.swingDate || e.swingHigh <= 0 || e.swingLow <= 0 {
		e.swingDate, e.swingHigh, e.swingLow = date, high, low
		return false
	}

	highShift := math.Abs(high-e.swingHigh) / e.swingHigh
	lowShift := math.Abs(low-e.swingLow) / e.swingLow
	if highShift < significantSwingShift && lowShift < significantSwingShift {
		return false
	}
	e.swingHigh, e.swingLow = high, low
	return true
}

func (e *Engine) normalizeDate(input string) string {
	s := strings.TrimSpace(input)
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return e.now().UTC().Format(dateLayout)
	}
	return s
}

func dateOffset(date string, days int) string {
	anchor, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	return anchor.Add(12*time.Hour).AddDate(0, 0, -days).Format(dateLayout)
}
