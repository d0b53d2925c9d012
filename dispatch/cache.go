package dispatch

import (
	"sync"
	"time"
)

// Cache is the query-result cache keyed by (parsedRequest, userRole,
// sessionVarsProjectedToRequestUsage) per §4.5. No generic TTL cache
// library appears anywhere in the retrieval pack (see DESIGN.md), so
// this is a small homegrown sync.Mutex-guarded map + janitor, in the same spirit as
// the teacher's utils/backoff and utils/interval helpers.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	done    chan struct{}
}

type cacheEntry struct {
	payload   interface{}
	expiresAt time.Time // zero means "no TTL, never expires on its own"
}

// NewCache starts a cache with a background janitor that sweeps expired
// entries every sweepInterval.
func NewCache(sweepInterval time.Duration) *Cache {
	c := &Cache{
		entries: map[string]cacheEntry{},
		done:    make(chan struct{}),
	}

	if sweepInterval > 0 {
		go c.janitor(sweepInterval)
	}

	return c
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the janitor goroutine.
func (c *Cache) Close() {
	close(c.done)
}

// Get returns the cached payload for key, if present and unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.payload, true
}

// Set stores payload under key with the given ttl (zero means no
// expiry, relying only on the janitor never touching it).
func (c *Cache) Set(key string, payload interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.entries[key] = cacheEntry{payload: payload, expiresAt: expiresAt}
}
