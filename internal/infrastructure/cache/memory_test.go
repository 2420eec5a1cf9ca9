package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetDelete(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	var got samplePayload
	assert.False(t, store.Get(ctx, "k", &got))

	store.Set(ctx, "k", samplePayload{Current: 3.5, Trend: "expanding"}, time.Minute)
	require.True(t, store.Get(ctx, "k", &got))
	assert.Equal(t, 3.5, got.Current)

	store.Delete(ctx, "k")
	assert.False(t, store.Get(ctx, "k", &got))
}

func TestMemory_EntriesExpire(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := &memory{m: make(map[string]entry), now: func() time.Time { return now }}
	ctx := context.Background()

	store.Set(ctx, "k", samplePayload{Current: 1}, 20*time.Second)
	var got samplePayload
	require.True(t, store.Get(ctx, "k", &got))

	now = now.Add(21 * time.Second)
	assert.False(t, store.Get(ctx, "k", &got))
}

func TestMemory_SetIfAbsentIsExclusive(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	const contenders = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.SetIfAbsent(ctx, "lock", string(rune('a'+i)), time.Minute)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestMemory_DeleteIfEqualsChecksOwner(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	ok, err := store.SetIfAbsent(ctx, "lock", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := store.DeleteIfEquals(ctx, "lock", "owner-b")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = store.DeleteIfEquals(ctx, "lock", "owner-a")
	require.NoError(t, err)
	assert.True(t, deleted)

	ok, err = store.SetIfAbsent(ctx, "lock", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
