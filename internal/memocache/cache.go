// Package memocache provides a keyed, expiring, size-bounded memoization
// layer for upstream API lookups. Each call site owns one Cache instance
// with its own TTL and capacity; the credential scope of the caller is part
// of every key so entries never leak across users.
package memocache

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes the results of an expensive lookup. Entries expire after a
// fixed TTL; an LRU bound caps memory as a secondary limit. Concurrent
// calls for the same key share a single in-flight compute.
type Cache[V any] struct {
	name  string
	lru   *expirable.LRU[string, V]
	group singleflight.Group
}

// New creates a cache holding at most size entries for at most ttl each.
// The name only appears in keys, keeping call sites distinct if two caches
// are ever merged.
func New[V any](name string, size int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		name: name,
		lru:  expirable.NewLRU[string, V](size, nil, ttl),
	}
}

// Key builds a cache key from the caller's credential scope and the
// argument tuple of the lookup.
func Key(scope string, parts ...string) string {
	elems := make([]string, 0, len(parts)+1)
	elems = append(elems, scope)
	elems = append(elems, parts...)
	return strings.Join(elems, "\x1f")
}

// Do returns the cached value for key, or runs compute, stores the result,
// and returns it. Errors are returned without being cached, so the next
// call retries.
func (c *Cache[V]) Do(key string, compute func() (V, error)) (V, error) {
	key = c.name + "\x1f" + key
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have stored the value while this one
		// waited on the flight group.
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
