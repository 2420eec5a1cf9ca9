package crossmarket

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spxsignals/internal/infrastructure/cache"
	"github.com/sawpanic/spxsignals/internal/metrics"
)

type stubLandscapes struct {
	landscape *UnifiedGEXLandscape
	err       error
	calls     int64
}

func (s *stubLandscapes) GetLandscape(ctx context.Context) (*UnifiedGEXLandscape, error) {
	atomic.AddInt64(&s.calls, 1)
	return s.landscape, s.err
}

func landscapeAt(spx, spy float64) *UnifiedGEXLandscape {
	return &UnifiedGEXLandscape{
		SPX: GEXProfile{Symbol: "SPX", SpotPrice: spx},
		SPY: GEXProfile{Symbol: "SPY", SpotPrice: spy},
	}
}

func TestBasisEstimator_FirstObservation(t *testing.T) {
	e := NewBasisEstimator(nil, nil, nil)

	state, err := e.Observe(6032.40, 603.05)
	require.NoError(t, err)

	assert.Equal(t, 1.90, state.Current)
	assert.Equal(t, 1.90, state.EMA5)
	assert.Equal(t, 1.90, state.EMA20)
	assert.Equal(t, TrendStable, state.Trend)
	assert.Equal(t, LeadingNeutral, state.Leading)
	assert.Equal(t, 0.0, state.ZScore)
	assert.Equal(t, 6032.40, state.SPXPrice)
	assert.Equal(t, 603.05, state.SPYPrice)
	assert.False(t, state.Timestamp.IsZero())
}

func TestBasisEstimator_HistoryBounded(t *testing.T) {
	e := NewBasisEstimator(nil, nil, nil)
	for i := 0; i < 300; i++ {
		_, err := e.Observe(6000+float64(i%7), 600)
		require.NoError(t, err)
		assert.LessOrEqual(t, e.HistoryLen(), basisHistoryLimit)
	}
	assert.Equal(t, basisHistoryLimit, e.HistoryLen())
}

func TestBasisEstimator_TrendAndLeader(t *testing.T) {
	t.Run("expanding basis leads with SPX", func(t *testing.T) {
		e := NewBasisEstimator(nil, nil, nil)
		var state BasisState
		for i := 0; i < 25; i++ {
			var err error
			state, err = e.Observe(6000+float64(i), 600)
			require.NoError(t, err)
		}
		assert.Equal(t, TrendExpanding, state.Trend)
		assert.Equal(t, LeadingSPX, state.Leading)
		assert.Greater(t, state.ZScore, 0.0)
	})

	t.Run("contracting basis leads with SPY", func(t *testing.T) {
		e := NewBasisEstimator(nil, nil, nil)
		var state BasisState
		for i := 0; i < 25; i++ {
			var err error
			state, err = e.Observe(6000-float64(i), 600)
			require.NoError(t, err)
		}
		assert.Equal(t, TrendContracting, state.Trend)
		assert.Equal(t, LeadingSPY, state.Leading)
		assert.Less(t, state.ZScore, 0.0)
	})

	t.Run("flat basis is stable", func(t *testing.T) {
		e := NewBasisEstimator(nil, nil, nil)
		var state BasisState
		for i := 0; i < 25; i++ {
			var err error
			state, err = e.Observe(6005, 600)
			require.NoError(t, err)
		}
		assert.Equal(t, TrendStable, state.Trend)
		assert.Equal(t, LeadingNeutral, state.Leading)
		assert.Equal(t, 0.0, state.ZScore)
	})
}

func TestBasisEstimator_RejectsInvalidPrices(t *testing.T) {
	e := NewBasisEstimator(nil, nil, nil)
	_, err := e.Observe(0, 600)
	assert.ErrorIs(t, err, ErrNoLandscape)
	_, err = e.Observe(6000, -1)
	assert.ErrorIs(t, err, ErrNoLandscape)
	assert.Equal(t, 0, e.HistoryLen())
}

func TestBasisEstimator_GetBasisStateUsesCache(t *testing.T) {
	provider := &stubLandscapes{landscape: landscapeAt(6032.40, 603.05)}
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	e := NewBasisEstimator(provider, cache.NewMemory(), reg)
	ctx := context.Background()

	first, err := e.GetBasisState(ctx, BasisOptions{})
	require.NoError(t, err)
	second, err := e.GetBasisState(ctx, BasisOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&provider.calls))
	assert.Equal(t, first.Current, second.Current)
	assert.Equal(t, 1, e.HistoryLen())
	assert.Equal(t, 1.0, metrics.CounterValue(reg.CacheHits, "basis"))

	_, err = e.GetBasisState(ctx, BasisOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&provider.calls))
}

func TestBasisEstimator_SuppliedLandscapeSkipsCacheRead(t *testing.T) {
	provider := &stubLandscapes{landscape: landscapeAt(6032.40, 603.05)}
	e := NewBasisEstimator(provider, cache.NewMemory(), nil)
	ctx := context.Background()

	_, err := e.GetBasisState(ctx, BasisOptions{})
	require.NoError(t, err)

	state, err := e.GetBasisState(ctx, BasisOptions{Landscape: landscapeAt(6040, 603.5)})
	require.NoError(t, err)
	assert.Equal(t, 5.0, state.Current)
	assert.Equal(t, int64(1), atomic.LoadInt64(&provider.calls))
	assert.Equal(t, 2, e.HistoryLen())
}

func TestBasisEstimator_ProviderFailure(t *testing.T) {
	boom := errors.New("upstream down")
	e := NewBasisEstimator(&stubLandscapes{err: boom}, cache.NewMemory(), nil)

	_, err := e.GetBasisState(context.Background(), BasisOptions{})
	assert.ErrorIs(t, err, boom)

	e = NewBasisEstimator(nil, cache.NewMemory(), nil)
	_, err = e.GetBasisState(context.Background(), BasisOptions{})
	assert.ErrorIs(t, err, ErrNoLandscape)
}

func TestConversionRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		spy, basis float64
	}{
		{603.05, 1.90},
		{450.12, -12.5},
		{700, 0},
	} {
		spx := ConvertSPYToSPX(tc.spy, tc.basis)
		assert.InDelta(t, tc.spy, ConvertSPXToSPY(spx, tc.basis), 1e-9)
	}
	assert.InDelta(t, 6032.40, ConvertSPYToSPX(603.05, 1.90), 1e-9)
}
