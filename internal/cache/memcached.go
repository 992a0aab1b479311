package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

const keyPrefix = "forecast:"

// maxRelativeExp is memcached's limit for relative expirations (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache using memcached. Items live for ttl plus
// staleRetention; freshness is decided from the stored expiry, not by memcached.
type MemcachedCache struct {
	client         *memcache.Client
	staleRetention time.Duration
}

// envelope is the stored item: the report plus its logical expiry.
type envelope struct {
	ExpiresAt time.Time     `json:"expiresAt"`
	Report    models.Report `json:"report"`
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, staleRetention time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, staleRetention: staleRetention}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key maps a query key to a memcached key. Memcached keys may not contain
// whitespace or control characters, so those become underscores.
func (c *MemcachedCache) key(k string) string {
	return keyPrefix + strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, k)
}

func (c *MemcachedCache) load(ctx context.Context, key string) (envelope, bool, error) {
	if ctx.Err() != nil {
		return envelope{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return envelope{}, false, nil
		}
		return envelope{}, false, err
	}
	var env envelope
	if err := json.Unmarshal(item.Value, &env); err != nil {
		return envelope{}, false, err
	}
	return env, true, nil
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.Report, bool, error) {
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return models.Report{}, false, err
	}
	if time.Now().After(env.ExpiresAt) {
		return models.Report{}, false, nil
	}
	return env.Report, true, nil
}

// GetStale implements Cache.GetStale.
func (c *MemcachedCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Report, bool, error) {
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return models.Report{}, false, err
	}
	if time.Since(env.Report.FetchedAt) > maxStaleAge {
		return models.Report{}, false, nil
	}
	return env.Report, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.Report, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(envelope{ExpiresAt: time.Now().Add(ttl), Report: value})
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl + c.staleRetention),
	})
}

// expirationSeconds converts a lifetime to memcached's relative expiry, falling back to 1h if out of range.
func expirationSeconds(d time.Duration) int32 {
	sec := int64(d.Seconds())
	if sec <= 0 || sec > maxRelativeExp {
		return 3600
	}
	return int32(sec)
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
