package baseline

import (
	"context"
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

// Key builds the cache key for an organization + data source pair.
func Key(orgID, sourceID string) string {
	return orgID + ":" + sourceID
}

// Cache stores baselines keyed by organization + data source. Entries are
// replaced wholesale; a cached baseline is never partially updated.
type Cache interface {
	Get(ctx context.Context, key string) (*detection.HistoricalBaseline, bool, error)
	Put(ctx context.Context, key string, b *detection.HistoricalBaseline) error
	Invalidate(ctx context.Context, key string) error
}

// MemoryCache is the default in-process Cache with per-entry TTL.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	baseline *detection.HistoricalBaseline
	expires  time.Time
}

// NewMemoryCache creates a memory cache. A non-positive ttl disables expiry.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached baseline for a key, if present and unexpired.
func (c *MemoryCache) Get(_ context.Context, key string) (*detection.HistoricalBaseline, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.baseline, true, nil
}

// Put stores a baseline, replacing any previous entry atomically.
func (c *MemoryCache) Put(_ context.Context, key string, b *detection.HistoricalBaseline) error {
	e := memoryEntry{baseline: b}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Invalidate removes a cached baseline.
func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}
