// Package cache provides an in-memory TTL cache with ETag support for the
// read-heavy alert lookups.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultEvictInterval is how often Run sweeps expired entries.
const DefaultEvictInterval = 5 * time.Minute

type entry struct {
	data      []byte
	etag      string
	expiresAt time.Time
}

// Cache is a thread-safe in-memory TTL cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	enabled bool
	clock   clockwork.Clock
}

// New creates a cache. Pass enabled=false for a no-op cache; a nil clock
// uses real time.
func New(enabled bool, clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		entries: make(map[string]entry),
		enabled: enabled,
		clock:   clock,
	}
}

// Get returns the cached data and its ETag if the entry exists and is fresh.
func (c *Cache) Get(key string) (data []byte, etag string, ok bool) {
	data, etag, _, ok = c.Lookup(key)
	return data, etag, ok
}

// Lookup is Get plus the time left before the entry expires.
func (c *Cache) Lookup(key string) (data []byte, etag string, left time.Duration, ok bool) {
	if !c.enabled {
		return nil, "", 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, exists := c.entries[key]
	if !exists {
		return nil, "", 0, false
	}
	left = e.expiresAt.Sub(c.clock.Now())
	if left <= 0 {
		return nil, "", 0, false
	}
	return e.data, e.etag, left, true
}

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time {
	return c.clock.Now()
}

// Set stores data for ttl and returns its ETag.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) string {
	etag := ComputeETag(data)
	if !c.enabled || ttl <= 0 {
		return etag
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		data:      data,
		etag:      etag,
		expiresAt: c.clock.Now().Add(ttl),
	}
	return etag
}

// PurgePrefix drops every entry whose key starts with prefix and returns how
// many were removed. New alerts call this so location lookups see them
// before the TTL runs out.
func (c *Cache) PurgePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Stats returns cache statistics.
func (c *Cache) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := 0
	now := c.clock.Now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			active++
		}
	}
	return map[string]any{
		"enabled":      c.enabled,
		"total_keys":   len(c.entries),
		"active_keys":  active,
		"expired_keys": len(c.entries) - active,
	}
}

// Run evicts expired entries every interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if !c.enabled {
		return
	}
	if interval <= 0 {
		interval = DefaultEvictInterval
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.evict()
		}
	}
}

func (c *Cache) evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	n := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// ComputeETag derives a weak ETag from the response body.
func ComputeETag(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf(`W/"%x"`, sum[:8])
}

// CheckETagMatch reports whether an If-None-Match header value matches etag.
// Comma-separated lists are honoured.
func CheckETagMatch(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
