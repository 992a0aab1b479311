package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

// Cache stores forecast reports by query key. Get returns only fresh entries;
// GetStale also returns expired entries whose report is younger than maxStaleAge,
// for serving while upstream is failing.
type Cache interface {
	Get(ctx context.Context, key string) (models.Report, bool, error)
	GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Report, bool, error)
	Set(ctx context.Context, key string, value models.Report, ttl time.Duration) error
}

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries are
// kept for staleRetention after expiry so GetStale can find them, then dropped.
type InMemoryCache struct {
	mu             sync.Mutex
	data           map[string]cacheEntry
	staleRetention time.Duration
	now            func() time.Time
}

type cacheEntry struct {
	value     models.Report
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache. staleRetention of 0 drops
// entries as soon as they expire.
func NewInMemoryCache(staleRetention time.Duration) *InMemoryCache {
	return &InMemoryCache{
		data:           make(map[string]cacheEntry),
		staleRetention: staleRetention,
		now:            time.Now,
	}
}

// Get returns (report, true, nil) for a fresh entry and (zero, false, nil) on
// a miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Report, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.Report{}, false, nil
	}
	now := c.now()
	if now.After(entry.expiresAt) {
		if now.After(entry.expiresAt.Add(c.staleRetention)) {
			delete(c.data, key)
		}
		return models.Report{}, false, nil
	}
	return entry.value, true, nil
}

// GetStale returns the entry regardless of TTL as long as its report was
// fetched no more than maxStaleAge ago.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Report, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.Report{}, false, nil
	}
	if c.now().Sub(entry.value.FetchedAt) > maxStaleAge {
		return models.Report{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value for ttl and sweeps entries past their stale retention.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Report, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.data {
		if now.After(e.expiresAt.Add(c.staleRetention)) {
			delete(c.data, k)
		}
	}
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, fresh or stale.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
