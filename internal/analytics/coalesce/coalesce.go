// Package coalesce implements the cache-aside computation shape shared by every
// analytics component: read the shared cache, join an identical in-flight
// computation, or compute and write the result through with a TTL.
package coalesce

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sawpanic/spxsignals/internal/infrastructure/cache"
	"github.com/sawpanic/spxsignals/internal/metrics"
)

// Request describes one cache-aside call.
type Request struct {
	Key string
	TTL time.Duration
	// Force skips both the cache read and the in-flight join. The result is still
	// written through so later callers see it.
	Force bool
	// SkipCacheRead is set when the caller supplied precomputed dependencies, so a
	// cached value built from other inputs must not be returned.
	SkipCacheRead bool
}

// Group coalesces concurrent computations of T per cache key. Values returned to
// coalesced callers are shared and must be treated as read-only.
type Group[T any] struct {
	cacheType string
	cache     cache.Cache
	metrics   *metrics.Registry
	flight    singleflight.Group
}

// NewGroup creates a Group. cacheType labels metrics; c may be nil to disable caching.
func NewGroup[T any](cacheType string, c cache.Cache, m *metrics.Registry) *Group[T] {
	return &Group[T]{cacheType: cacheType, cache: c, metrics: m}
}

// Do returns the value for req.Key, computing it at most once per key at a time
// for non-forced callers. Computation errors are returned and never cached.
func (g *Group[T]) Do(ctx context.Context, req Request, compute func(context.Context) (T, error)) (T, error) {
	if req.Force {
		return g.run(ctx, req, compute)
	}

	// The shared computation must not die with whichever caller started it.
	detached := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(req.Key, func() (interface{}, error) {
		return g.run(detached, req, compute)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			g.metrics.RecordCoalesced(g.cacheType)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (g *Group[T]) run(ctx context.Context, req Request, compute func(context.Context) (T, error)) (T, error) {
	if !req.Force && !req.SkipCacheRead && g.cache != nil {
		var cached T
		if g.cache.Get(ctx, req.Key, &cached) {
			g.metrics.RecordCacheHit(g.cacheType)
			return cached, nil
		}
		g.metrics.RecordCacheMiss(g.cacheType)
	}

	started := time.Now()
	val, err := compute(ctx)
	g.metrics.ObserveCompute(g.cacheType, started, err)
	if err != nil {
		var zero T
		return zero, err
	}

	if g.cache != nil && req.TTL > 0 {
		g.cache.Set(ctx, req.Key, val, req.TTL)
	}
	return val, nil
}
