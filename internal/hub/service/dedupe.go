package service

import (
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

// dedupeCache remembers results of non-idempotent operations by
// correlation id so a client retry after a transport failure does not
// create a second thread or message. Entries expire after the window.
type dedupeCache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]dedupeEntry
}

type dedupeEntry struct {
	frame    *wire.Frame
	storedAt time.Time
}

func newDedupeCache(window time.Duration) *dedupeCache {
	return &dedupeCache{
		window:  window,
		entries: make(map[string]dedupeEntry),
	}
}

// get returns the cached response for a correlation id, if present and
// fresh. Expired entries are removed opportunistically.
func (c *dedupeCache) get(key string) (*wire.Frame, bool) {
	if key == "" {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.storedAt) > c.window {
		delete(c.entries, key)
		return nil, false
	}
	return e.frame, true
}

// put stores a response frame under a correlation id and sweeps
// expired entries.
func (c *dedupeCache) put(key string, f *wire.Frame) {
	if key == "" {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.window {
			delete(c.entries, k)
		}
	}
	c.entries[key] = dedupeEntry{frame: f, storedAt: now}
}
