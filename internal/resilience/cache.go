package resilience

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL  = 5 * time.Minute
	DefaultCacheSize = 1000
)

type cacheEntry struct {
	key       string
	value     any
	expiresAt time.Time
	tags      []string
	elem      *list.Element
}

// Cache is a bounded key/value store with per-entry TTL, least-recently-used
// eviction, tag and prefix invalidation, and single-flight computation
// coalescing.
type Cache struct {
	DefaultTTL time.Duration
	MaxSize    int

	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     *list.List // front = most recently touched
	group   singleflight.Group
	now     func() time.Time

	hits   int64
	misses int64
}

func NewCache(maxSize int, defaultTTL time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	return &Cache{
		DefaultTTL: defaultTTL,
		MaxSize:    maxSize,
		entries:    make(map[string]*cacheEntry),
		lru:        list.New(),
		now:        time.Now,
	}
}

// Key builds a cache key from a prefix and ordered parameters.
func Key(prefix string, params ...string) string {
	return prefix + ":" + strings.Join(params, ":")
}

// Get returns the value for key, lazily evicting it if expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// Set stores value under key. When the cache is full and key is new, the
// least-recently-touched entry is evicted. A zero ttl uses the default.
func (c *Cache) Set(key string, value any, ttl time.Duration, tags ...string) {
	if ttl <= 0 {
		ttl = c.DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = c.now().Add(ttl)
		e.tags = tags
		c.lru.MoveToFront(e.elem)
		return
	}
	if len(c.entries) >= c.MaxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeLocked(oldest.Value.(*cacheEntry))
		}
	}
	e := &cacheEntry{key: key, value: value, expiresAt: c.now().Add(ttl), tags: tags}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
}

// GetOrCompute returns the cached value for key or runs compute and stores the
// result. Concurrent callers for the same key share a single execution.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (any, error), tags ...string) (any, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A racing caller may have populated the key while we queued.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		out, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, out, ttl, tags...)
		return out, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache compute for %q: %w", key, err)
	}
	return v, false, nil
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// InvalidateByTag removes every entry carrying tag, returning the count.
func (c *Cache) InvalidateByTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, e := range c.entries {
		for _, t := range e.tags {
			if t == tag {
				c.removeLocked(e)
				removed++
				break
			}
		}
	}
	return removed
}

// InvalidateByPrefix removes every entry whose key starts with prefix.
func (c *Cache) InvalidateByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if strings.HasPrefix(k, prefix) {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

// Cleanup sweeps expired entries, returning the count removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

type CacheStats struct {
	Size    int      `json:"size"`
	MaxSize int      `json:"max_size"`
	Hits    int64    `json:"hits"`
	Misses  int64    `json:"misses"`
	HitRate float64  `json:"hit_rate"`
	Keys    []string `json:"keys,omitempty"`
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{
		Size:    len(c.entries),
		MaxSize: c.MaxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	if len(c.entries) <= 50 {
		for k := range c.entries {
			s.Keys = append(s.Keys, k)
		}
		sort.Strings(s.Keys)
	}
	return s
}

func (c *Cache) removeLocked(e *cacheEntry) {
	delete(c.entries, e.key)
	c.lru.Remove(e.elem)
}
