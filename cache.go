package netagent

import (
	"strings"
	"sync"
	"time"
)

// defaultCacheableFragments limits caching to idempotent, low-churn query
// commands. A command is cacheable when its lowercased text contains any of
// these fragments.
var defaultCacheableFragments = []string{
	"version",
	"inventory",
	"logging summary",
	"log summary",
	"platform",
	"license",
}

const defaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	output     string
	insertedAt time.Time
}

// ResultCache holds recent outputs for allow-listed commands, keyed by
// (device address, command text). It is a best-effort optimization: a miss
// always falls through to live execution.
type ResultCache struct {
	ttl       time.Duration
	fragments []string
	clock     func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    int64
	misses  int64
}

// NewResultCache builds a cache with the given TTL. ttl <= 0 selects the
// default.
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &ResultCache{
		ttl:       ttl,
		fragments: defaultCacheableFragments,
		clock:     time.Now,
		entries:   make(map[string]cacheEntry),
	}
}

// Cacheable reports whether command is eligible for caching.
func (c *ResultCache) Cacheable(command string) bool {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, fragment := range c.fragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func cacheKey(addr, command string) string {
	return addr + "\x00" + strings.TrimSpace(command)
}

// Get returns the cached output for (addr, command) when present and fresh.
func (c *ResultCache) Get(addr, command string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(addr, command)]
	if !ok || c.clock().Sub(entry.insertedAt) > c.ttl {
		if ok {
			delete(c.entries, cacheKey(addr, command))
		}
		c.misses++
		return "", false
	}
	c.hits++
	return entry.output, true
}

// Put stores output for (addr, command) when the command is cacheable.
func (c *ResultCache) Put(addr, command, output string) {
	if !c.Cacheable(command) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(addr, command)] = cacheEntry{output: output, insertedAt: c.clock()}
}

// Invalidate drops every entry for addr. Wired to connection-pool eviction
// so a known-unhealthy session can never serve stale output.
func (c *ResultCache) Invalidate(addr string) {
	prefix := addr + "\x00"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Stats returns cumulative hit/miss counters.
func (c *ResultCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// ResetStats zeroes the hit/miss counters.
func (c *ResultCache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = 0
	c.misses = 0
}
