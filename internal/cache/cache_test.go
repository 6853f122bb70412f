package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadmem/memcore/internal/config"
)

func testCfg() config.CacheConfig {
	return config.CacheConfig{Enabled: true, MaxSize: 3, TTL: time.Minute}
}

func TestGetSetDelete(t *testing.T) {
	c := New[string]("test", testCfg())

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", "1")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c := New[int]("test", testCfg())
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Set("d", 4) // evicts the least recently used entry

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry evicted")
	v, ok := c.Get("d")
	require.True(t, ok)
	assert.Equal(t, 4, v)
}

func TestTTLExpiry(t *testing.T) {
	cfg := testCfg()
	cfg.TTL = 10 * time.Millisecond
	c := New[int]("test", cfg)
	c.Set("a", 1)

	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok, "entry expired")
}

func TestDeleteByPrefix(t *testing.T) {
	c := New[int]("test", config.CacheConfig{Enabled: true, MaxSize: 10, TTL: time.Minute})
	c.Set(Key("thread-1", "10"), 1)
	c.Set(Key("thread-1", "agent"), 2)
	c.Set(Key("thread-10", "10"), 3)

	c.DeleteByPrefix("thread-1" + KeySep)

	_, ok := c.Get(Key("thread-1", "10"))
	assert.False(t, ok)
	_, ok = c.Get(Key("thread-1", "agent"))
	assert.False(t, ok)
	// the separator keeps thread-10 out of thread-1's prefix
	_, ok = c.Get(Key("thread-10", "10"))
	assert.True(t, ok)
}

func TestDisabledCache(t *testing.T) {
	c := New[int]("test", config.CacheConfig{Enabled: false})
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	c.Delete("a")
	c.DeleteByPrefix("a")
	c.Purge()
}

func TestStats(t *testing.T) {
	c := New[int]("test", testCfg())
	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("b")

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate(), 1e-9)

	assert.Equal(t, 0.0, Stats{}.HitRate(), "cold cache has zero hit rate")

	combined := Combine(s, Stats{Hits: 1, Misses: 1})
	assert.Equal(t, int64(3), combined.Hits)
	assert.Equal(t, int64(2), combined.Misses)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "a"+KeySep+"b"+KeySep+"c", Key("a", "b", "c"))
}
