// Package snapshot coordinates rebuilding of the composite snapshot across
// processes: a shared result slot, a build lock guarded by an owner token, and a
// bounded wait for callers that lost the race for the lock.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spxsignals/internal/infrastructure/cache"
	"github.com/sawpanic/spxsignals/internal/metrics"
)

const (
	SharedKey = "spx_command_center:snapshot:shared"
	LockKey   = "spx_command_center:snapshot:build_lock"

	SharedTTL = 20 * time.Second
	LockTTL   = 15 * time.Second

	DefaultWaitTimeout  = 1800 * time.Millisecond
	DefaultPollInterval = 120 * time.Millisecond
)

type WaitOptions struct {
	Timeout time.Duration
	Poll    time.Duration
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultWaitTimeout
	}
	if o.Poll <= 0 {
		o.Poll = DefaultPollInterval
	}
	return o
}

// Coordinator holds no state beyond the store handle.
type Coordinator struct {
	store    cache.Store
	metrics  *metrics.Registry
	newToken func() string
}

func NewCoordinator(store cache.Store, m *metrics.Registry) *Coordinator {
	return &Coordinator{store: store, metrics: m, newToken: newOwnerToken}
}

// newOwnerToken is unique per acquisition attempt.
func newOwnerToken() string {
	return fmt.Sprintf("%d:%d:%s", os.Getpid(), time.Now().UnixMilli(), uuid.NewString())
}

func (c *Coordinator) ReadSharedSnapshot(ctx context.Context, dest interface{}) bool {
	return c.store.Get(ctx, SharedKey, dest)
}

func (c *Coordinator) WriteSharedSnapshot(ctx context.Context, value interface{}) {
	c.store.Set(ctx, SharedKey, value, SharedTTL)
}

// TryAcquireBuildLock returns a fresh owner token when the lock was free. An
// unreachable cache or a held lock yields "", false.
func (c *Coordinator) TryAcquireBuildLock(ctx context.Context) (string, bool) {
	if !c.store.Enabled() {
		c.metrics.RecordBuildLock("disabled")
		return "", false
	}

	token := c.newToken()
	ok, err := c.store.SetIfAbsent(ctx, LockKey, token, LockTTL)
	if err != nil {
		log.Warn().Err(err).Msg("Snapshot build lock acquisition failed")
		c.metrics.RecordBuildLock("error")
		return "", false
	}
	if !ok {
		c.metrics.RecordBuildLock("held")
		return "", false
	}

	c.metrics.RecordBuildLock("acquired")
	return token, true
}

// ReleaseBuildLock deletes the lock only while it still holds token, so a holder
// whose lock expired can never release a newer holder's lock.
func (c *Coordinator) ReleaseBuildLock(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	released, err := c.store.DeleteIfEquals(ctx, LockKey, token)
	if err != nil {
		log.Warn().Err(err).Msg("Snapshot build lock release failed")
		c.metrics.RecordBuildLock("release_error")
		return false
	}
	if !released {
		log.Debug().Str("token", token).Msg("Snapshot build lock no longer owned")
		c.metrics.RecordBuildLock("stale")
		return false
	}
	c.metrics.RecordBuildLock("released")
	return true
}

// WaitForSharedSnapshot polls the shared slot until a value decodes into dest,
// the timeout elapses, or ctx is done.
func (c *Coordinator) WaitForSharedSnapshot(ctx context.Context, dest interface{}, opts WaitOptions) bool {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.Timeout)

	for {
		if c.ReadSharedSnapshot(ctx, dest) {
			c.metrics.RecordSnapshotWait("hit")
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.metrics.RecordSnapshotWait("timeout")
			return false
		}
		wait := opts.Poll
		if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			c.metrics.RecordSnapshotWait("cancelled")
			return false
		case <-time.After(wait):
		}
	}
}
