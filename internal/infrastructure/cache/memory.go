package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memory struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

type entry struct {
	b   []byte
	exp time.Time
}

// NewMemory returns an in-process Store. Values are JSON encoded so readers get
// copies, the same as they would from Redis.
func NewMemory() Store { return &memory{m: make(map[string]entry), now: time.Now} }

func (c *memory) Enabled() bool { return true }

func (c *memory) lookup(key string) (entry, bool) {
	e, ok := c.m[key]
	if !ok {
		return entry{}, false
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		delete(c.m, key)
		return entry{}, false
	}
	return e, true
}

func (c *memory) Get(_ context.Context, key string, dest interface{}) bool {
	c.mu.Lock()
	e, ok := c.lookup(key)
	c.mu.Unlock()
	if !ok {
		return false
	}
	return json.Unmarshal(e.b, dest) == nil
}

func (c *memory) Set(_ context.Context, key string, value interface{}, ttl time.Duration) {
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = c.newEntry(b, ttl)
}

func (c *memory) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

func (c *memory) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.m[key] = c.newEntry([]byte(value), ttl)
	return true, nil
}

func (c *memory) DeleteIfEquals(_ context.Context, key, expected string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok || string(e.b) != expected {
		return false, nil
	}
	delete(c.m, key)
	return true, nil
}

func (c *memory) newEntry(b []byte, ttl time.Duration) entry {
	e := entry{b: append([]byte(nil), b...)}
	if ttl > 0 {
		e.exp = c.now().Add(ttl)
	}
	return e
}
