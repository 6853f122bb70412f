// Package cache provides the bounded, time-expiring caches that sit in front
// of the active backend adapter. Caches are process-local and best-effort:
// no distributed invalidation is attempted, which is a documented limitation
// of the core rather than an oversight.
package cache

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/threadmem/memcore/internal/config"
)

// KeySep joins cache key parts. ASCII unit separator cannot appear in the
// UUID-based ids this core generates, so prefix invalidation of
// threadID+KeySep can never sweep an unrelated thread whose id happens to
// share a textual prefix.
const KeySep = "\x1f"

// Key joins parts with the reserved separator.
func Key(parts ...string) string {
	return strings.Join(parts, KeySep)
}

// Stats is a point-in-time snapshot of a cache's hit/miss counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// HitRate returns hits/(hits+misses), or 0 when the cache is cold.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Combine sums stats across caches for an aggregate hit rate.
func Combine(stats ...Stats) Stats {
	var out Stats
	for _, s := range stats {
		out.Hits += s.Hits
		out.Misses += s.Misses
	}
	return out
}

// Cache is a bounded LRU with per-entry TTL and hit/miss accounting.
// Entries expire on read once older than the TTL and are evicted LRU-first
// when the cache exceeds its maximum size. All methods are safe for
// concurrent use and never block on I/O.
type Cache[V any] struct {
	lru     *expirable.LRU[string, V]
	name    string
	enabled bool
	metrics bool
	hits    atomic.Int64
	misses  atomic.Int64
}

// New builds a cache from one cache-instance config. A disabled cache is a
// valid value whose Get always misses and whose Set is a no-op.
func New[V any](name string, cfg config.CacheConfig) *Cache[V] {
	c := &Cache[V]{
		name:    name,
		enabled: cfg.Enabled,
		metrics: cfg.CollectMetrics,
	}
	if cfg.Enabled {
		size := cfg.MaxSize
		if size <= 0 {
			size = 100
		}
		ttl := cfg.TTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		c.lru = expirable.NewLRU[string, V](size, nil, ttl)
	}
	return c
}

// Get checks the cache, counting a hit or miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if !c.enabled {
		return zero, false
	}
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
		if c.metrics {
			hitsTotal.WithLabelValues(c.name).Inc()
		}
		return v, true
	}
	c.misses.Add(1)
	if c.metrics {
		missesTotal.WithLabelValues(c.name).Inc()
	}
	return zero, false
}

// Set populates the cache. Callers must not cache nil/empty fetch results;
// that policy lives in the facade so negative lookups are never pinned for a
// full TTL.
func (c *Cache[V]) Set(key string, v V) {
	if !c.enabled {
		return
	}
	c.lru.Add(key, v)
}

// Delete removes one key.
func (c *Cache[V]) Delete(key string) {
	if !c.enabled {
		return
	}
	c.lru.Remove(key)
}

// DeleteByPrefix removes every key with the given prefix. Used by thread
// deletion to sweep all message-list and state entries of the thread.
func (c *Cache[V]) DeleteByPrefix(prefix string) {
	if !c.enabled {
		return
	}
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
}

// Purge drops all entries, keeping the counters.
func (c *Cache[V]) Purge() {
	if !c.enabled {
		return
	}
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	if !c.enabled {
		return 0
	}
	return c.lru.Len()
}

// Stats snapshots the hit/miss counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
