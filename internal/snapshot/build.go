package snapshot

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Outcome says where a BuildOrWait result came from.
type Outcome string

const (
	OutcomeCached Outcome = "cached" // already in the shared slot
	OutcomeBuilt  Outcome = "built"  // built under the lock and published
	OutcomeShared Outcome = "shared" // published by another holder while waiting
	OutcomeLocal  Outcome = "local"  // built without the lock, not published
)

// BuildOptions controls one BuildOrWait call.
type BuildOptions struct {
	// Force skips the shared read. A forced caller that wins the lock still
	// publishes; one that loses builds locally instead of waiting on a slot that
	// may hold exactly the value it wants replaced.
	Force bool
	Wait  WaitOptions
}

// BuildOrWait returns the shared snapshot, building it under the build lock when
// absent. Callers that lose the lock wait for the winner; if the wait times out
// they build locally and do not publish, since they do not hold the lock.
func BuildOrWait[T any](ctx context.Context, c *Coordinator, opts BuildOptions, build func(context.Context) (T, error)) (T, Outcome, error) {
	if !opts.Force {
		var snap T
		if c.ReadSharedSnapshot(ctx, &snap) {
			return snap, OutcomeCached, nil
		}
	}

	if token, ok := c.TryAcquireBuildLock(ctx); ok {
		defer c.ReleaseBuildLock(context.WithoutCancel(ctx), token)

		built, err := build(ctx)
		if err != nil {
			return built, OutcomeBuilt, err
		}
		c.WriteSharedSnapshot(ctx, built)
		return built, OutcomeBuilt, nil
	}

	if c.store.Enabled() && !opts.Force {
		var shared T
		if c.WaitForSharedSnapshot(ctx, &shared, opts.Wait) {
			return shared, OutcomeShared, nil
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, OutcomeLocal, err
		}
		log.Warn().Msg("Timed out waiting for shared snapshot, building locally")
	}

	local, err := build(ctx)
	return local, OutcomeLocal, err
}
