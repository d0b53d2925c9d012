package dispatch

import (
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(0)
	defer c.Close()

	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss on an empty cache")
	}

	c.Set("k", "v", 0)
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("expected hit with value %q, got %v ok=%v", "v", got, ok)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(0)
	defer c.Close()

	c.Set("k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected a TTL'd entry to be gone once expired")
	}
}

func TestCacheJanitorSweepsExpiredEntries(t *testing.T) {
	c := NewCache(2 * time.Millisecond)
	defer c.Close()

	c.Set("k", "v", time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	c.mu.Lock()
	_, present := c.entries["k"]
	c.mu.Unlock()

	if present {
		t.Fatalf("expected the janitor to have swept the expired entry")
	}
}
