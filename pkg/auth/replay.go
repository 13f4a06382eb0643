package auth

import (
	"context"
	"sync"
	"time"
)

// ReplayCache remembers accepted token identifiers for their lifetime.
// Use is an atomic check-and-insert: it returns true exactly once per jti
// within the TTL window. Implementations must be safe for concurrent use.
type ReplayCache interface {
	Use(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// purgeInterval controls how often the in-memory cache sweeps expired
// entries as a side effect of writes.
const purgeInterval = 128

// MemoryReplayCache is the single-process ReplayCache. Expired entries are
// swept opportunistically every purgeInterval uses, so the map stays
// proportional to live tokens without a background goroutine.
type MemoryReplayCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ops     int
	clock   func() time.Time
}

// NewMemoryReplayCache creates an empty cache.
func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{
		entries: make(map[string]time.Time),
		clock:   time.Now,
	}
}

// WithClock fixes the cache's time source.
func (c *MemoryReplayCache) WithClock(clock func() time.Time) *MemoryReplayCache {
	c.clock = clock
	return c
}

func (c *MemoryReplayCache) Use(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()

	c.ops++
	if c.ops%purgeInterval == 0 {
		for k, expiry := range c.entries {
			if expiry.Before(now) {
				delete(c.entries, k)
			}
		}
	}

	if expiry, exists := c.entries[jti]; exists && expiry.After(now) {
		return false, nil
	}
	c.entries[jti] = now.Add(ttl)
	return true, nil
}

// Len reports the number of tracked entries, live or expired-but-unswept.
func (c *MemoryReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
