package netagent

import (
	"testing"
	"time"
)

func TestCacheOnlyStoresAllowlistedCommands(t *testing.T) {
	cache := NewResultCache(time.Minute)

	cache.Put("10.0.0.1", "show interfaces", "should not be stored")
	if _, ok := cache.Get("10.0.0.1", "show interfaces"); ok {
		t.Fatalf("non-allow-listed command must not be cached")
	}

	cache.Put("10.0.0.1", "show version", "Version 17.3.4")
	output, ok := cache.Get("10.0.0.1", "show version")
	if !ok || output != "Version 17.3.4" {
		t.Fatalf("allow-listed command must be cached, got %q ok=%v", output, ok)
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	cache := NewResultCache(time.Minute)
	now := time.Now()
	cache.clock = func() time.Time { return now }

	cache.Put("10.0.0.1", "show version", "v1")
	now = now.Add(2 * time.Minute)

	if _, ok := cache.Get("10.0.0.1", "show version"); ok {
		t.Fatalf("expired entry must not be served")
	}
}

func TestCacheInvalidateDropsDeviceEntries(t *testing.T) {
	cache := NewResultCache(time.Minute)

	cache.Put("10.0.0.1", "show version", "v1")
	cache.Put("10.0.0.1", "show inventory", "chassis")
	cache.Put("10.0.0.2", "show version", "v2")

	cache.Invalidate("10.0.0.1")

	if _, ok := cache.Get("10.0.0.1", "show version"); ok {
		t.Fatalf("invalidated device entry survived")
	}
	if _, ok := cache.Get("10.0.0.1", "show inventory"); ok {
		t.Fatalf("invalidated device entry survived")
	}
	if _, ok := cache.Get("10.0.0.2", "show version"); !ok {
		t.Fatalf("other devices must keep their entries")
	}
}

func TestCacheStatsCount(t *testing.T) {
	cache := NewResultCache(time.Minute)

	cache.Put("10.0.0.1", "show version", "v1")
	cache.Get("10.0.0.1", "show version")
	cache.Get("10.0.0.1", "show license")

	hits, misses := cache.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("want 1 hit / 1 miss, got %d/%d", hits, misses)
	}
}
