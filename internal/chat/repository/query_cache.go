package repository

import (
	"context"
	"sync"
	"time"
)

// FetchFunc loads the value for a key from the backing source.
type FetchFunc[T any] func(ctx context.Context, key string) (T, error)

// QueryCache is a keyed reactive cache: reads go through the fetch
// function on miss, event handlers patch entries in place with Write,
// and Invalidate marks a key for refetch. There is no refetch-on-focus:
// real-time events are the source of truth, so entries only go stale
// through Invalidate or TTL expiry.
type QueryCache[T any] struct {
	mu      sync.Mutex
	fetch   FetchFunc[T]
	ttl     time.Duration
	entries map[string]*cacheEntry[T]
}

type cacheEntry[T any] struct {
	value     T
	fetchedAt time.Time
}

// NewQueryCache builds a cache. ttl <= 0 means entries never expire on
// their own.
func NewQueryCache[T any](fetch FetchFunc[T], ttl time.Duration) *QueryCache[T] {
	return &QueryCache[T]{
		fetch:   fetch,
		ttl:     ttl,
		entries: make(map[string]*cacheEntry[T]),
	}
}

// Get returns the cached value, fetching it first on miss or expiry.
func (c *QueryCache[T]) Get(ctx context.Context, key string) (T, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !c.expired(e) {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := c.fetch(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = &cacheEntry[T]{value: v, fetchedAt: time.Now()}
	c.mu.Unlock()
	return v, nil
}

// Peek returns the cached value without fetching.
func (c *QueryCache[T]) Peek(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && !c.expired(e) {
		return e.value, true
	}
	var zero T
	return zero, false
}

// Write patches a cached entry in place. It applies only to keys that
// are already cached and reports whether the patch landed: events for
// data nobody has queried yet must not synthesize partial state.
func (c *QueryCache[T]) Write(key string, patch func(T) T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.expired(e) {
		return false
	}
	e.value = patch(e.value)
	return true
}

// Seed stores a value directly, as if it had just been fetched.
func (c *QueryCache[T]) Seed(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry[T]{value: value, fetchedAt: time.Now()}
}

// Invalidate drops a key so the next Get refetches.
func (c *QueryCache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *QueryCache[T]) expired(e *cacheEntry[T]) bool {
	return c.ttl > 0 && time.Since(e.fetchedAt) > c.ttl
}
