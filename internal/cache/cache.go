// Package cache provides a tiered TTL cache for slow-changing remote
// resources. A fresh entry short-circuits the fetch entirely; an expired
// entry is re-fetched, and when the re-fetch fails an existing (possibly
// stale) value is served instead of a hard failure.
package cache

import (
	"context"
	"sync"
	"time"
)

// FetchFunc produces a fresh value for a cache key.
type FetchFunc func(ctx context.Context) (any, error)

// Result carries a cache hit or fetch outcome. FetchedAt is the instant the
// value was obtained from the network, so consumers can observe staleness.
// Stale is set when a re-fetch failed and an expired value was served.
type Result struct {
	Value     any
	FetchedAt time.Time
	Stale     bool
}

type entry struct {
	value     any
	fetchedAt time.Time
	ttl       time.Duration
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.fetchedAt) < e.ttl
}

// Cache is a per-key TTL cache with stale-on-error fallback. Entries are
// replaced wholesale so a reader never observes a half-updated entry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// GetOrFetch returns the cached value for key when it is still fresh,
// otherwise calls fetch. A successful fetch replaces the entry. A failed
// fetch falls back to an existing entry of any age, reporting Stale; with no
// entry at all the fetch error is propagated.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (Result, error) {
	c.mu.RLock()
	cached, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	if ok && cached.fresh(now) {
		return Result{Value: cached.value, FetchedAt: cached.fetchedAt}, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		if ok {
			return Result{Value: cached.value, FetchedAt: cached.fetchedAt, Stale: true}, nil
		}
		return Result{}, err
	}

	c.mu.Lock()
	c.entries[key] = &entry{value: value, fetchedAt: c.now(), ttl: ttl}
	fetchedAt := c.entries[key].fetchedAt
	c.mu.Unlock()

	return Result{Value: value, FetchedAt: fetchedAt}, nil
}

// Invalidate drops the entry for key, forcing the next access to re-fetch.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}
