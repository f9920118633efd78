// Package cache memoizes expensive pipeline results for a bounded time.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/metrics"
)

const defaultMaxEntries = 4096

type entry struct {
	blob      []byte
	expiresAt time.Time
}

// ResultCache is a bounded TTL store of JSON blobs.
type ResultCache struct {
	store *lru.Cache[string, entry]
	group singleflight.Group
	now   func() time.Time
}

// Option customizes a ResultCache.
type Option func(*ResultCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// New creates a cache holding at most maxEntries blobs.
func New(maxEntries int, opts ...Option) *ResultCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	store, err := lru.New[string, entry](maxEntries)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	c := &ResultCache{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the blob under key, or domain.ErrCacheMiss when it is absent
// or expired.
func (c *ResultCache) Get(key string) ([]byte, error) {
	e, ok := c.store.Get(key)
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	if !c.now().Before(e.expiresAt) {
		c.store.Remove(key)
		return nil, domain.ErrCacheMiss
	}
	return e.blob, nil
}

// Set stores blob under key for ttl. Concurrent writers are last-writer-wins.
func (c *ResultCache) Set(key string, blob []byte, ttl time.Duration) {
	c.store.Add(key, entry{blob: blob, expiresAt: c.now().Add(ttl)})
}

// Invalidate drops key.
func (c *ResultCache) Invalidate(key string) {
	c.store.Remove(key)
}

// InvalidatePrefix drops every key starting with prefix and returns how many
// were dropped.
func (c *ResultCache) InvalidatePrefix(prefix string) int {
	n := 0
	for _, k := range c.store.Keys() {
		if strings.HasPrefix(k, prefix) && c.store.Remove(k) {
			n++
		}
	}
	return n
}

// Len returns the number of stored blobs, expired ones included.
func (c *ResultCache) Len() int {
	return c.store.Len()
}

// GetOrCompute returns the cached value under key, or computes it with fn,
// stores it for ttl and returns it. Undecodable entries count as misses.
// Concurrent misses on the same key share one fn call. Errors from fn are
// returned and nothing is stored.
func GetOrCompute[T any](ctx context.Context, c *ResultCache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := lookup[T](ctx, c, key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return v, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another caller may have filled the key while we waited.
		if v, ok := lookup[T](ctx, c, key); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return v, err
		}
		blob, err := json.Marshal(v)
		if err != nil {
			logger.CtxWarn(ctx, "cache: failed to encode value for key %s: %v", key, err)
			return v, nil
		}
		c.Set(key, blob, ttl)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func lookup[T any](ctx context.Context, c *ResultCache, key string) (T, bool) {
	var v T
	blob, err := c.Get(key)
	if err != nil {
		return v, false
	}
	if err := json.Unmarshal(blob, &v); err != nil {
		logger.CtxWarn(ctx, "cache: dropping undecodable entry %s: %v", key, err)
		c.Invalidate(key)
		var zero T
		return zero, false
	}
	return v, true
}
