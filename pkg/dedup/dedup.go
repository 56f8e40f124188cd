// Copyright 2024-2026 Aiku AI

// Package dedup implements the short-lived membership cache that absorbs
// re-delivery of the same inbound event from an unreliable or
// multiply-subscribed transport. It guards the inbound side only; it is not
// a substitute for idempotent sends.
package dedup

import (
	"sync"
	"time"
)

// DefaultTTL is the retention window for a seen id.
const DefaultTTL = 30 * time.Second

// sweepThreshold triggers a full sweep of expired entries on MarkSeen.
const sweepThreshold = 1024

// Cache is a TTL membership set keyed by event id.
type Cache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen reports whether id was marked within its TTL.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.entries[id]
	if !ok {
		return false
	}
	if c.now().After(expiry) {
		delete(c.entries, id)
		return false
	}
	return true
}

// MarkSeen records id for the given ttl. A non-positive ttl falls back to
// DefaultTTL.
func (c *Cache) MarkSeen(id string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= sweepThreshold {
		c.sweepLocked()
	}
	c.entries[id] = c.now().Add(ttl)
}

// Len returns the number of tracked entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweepLocked() {
	now := c.now()
	for id, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, id)
		}
	}
}
