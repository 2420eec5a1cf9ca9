package providers

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spxsignals/internal/analytics/crossmarket"
	"github.com/sawpanic/spxsignals/internal/infrastructure/cache"
)

const (
	LandscapeCacheKey      = "spx_command_center:gex:unified"
	LandscapeStaleCacheKey = "spx_command_center:gex:unified:stale"
)

// CachedLandscapeProvider reads the gamma landscape published to the shared cache
// by the options aggregator, falling back to its stale copy.
type CachedLandscapeProvider struct {
	cache cache.Cache
}

func NewCachedLandscapeProvider(c cache.Cache) *CachedLandscapeProvider {
	return &CachedLandscapeProvider{cache: c}
}

func (p *CachedLandscapeProvider) GetLandscape(ctx context.Context) (*crossmarket.UnifiedGEXLandscape, error) {
	var landscape crossmarket.UnifiedGEXLandscape
	if p.cache.Get(ctx, LandscapeCacheKey, &landscape) {
		return &landscape, nil
	}
	if p.cache.Get(ctx, LandscapeStaleCacheKey, &landscape) {
		log.Warn().Msg("Using stale gex landscape")
		return &landscape, nil
	}
	return nil, crossmarket.ErrNoLandscape
}

// StaticLandscapeProvider always returns the same landscape.
type StaticLandscapeProvider struct {
	Landscape *crossmarket.UnifiedGEXLandscape
}

func (p StaticLandscapeProvider) GetLandscape(ctx context.Context) (*crossmarket.UnifiedGEXLandscape, error) {
	if p.Landscape == nil {
		return nil, crossmarket.ErrNoLandscape
	}
	return p.Landscape, nil
}
