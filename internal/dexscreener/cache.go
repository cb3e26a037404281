package dexscreener

import (
	"sync"
	"time"
)

// pairCache absorbs duplicate reads across sweeps. Entries expire after a
// fixed TTL; expired entries are evicted opportunistically.
type pairCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	pairs     []Pair
	expiresAt time.Time
}

const cacheSweepThreshold = 4096

func newPairCache(ttl time.Duration) *pairCache {
	return &pairCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry, 128),
	}
}

func (c *pairCache) get(mint string) ([]Pair, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.entries[mint]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, mint)
		c.mu.Unlock()
		return nil, false
	}
	return e.pairs, true
}

func (c *pairCache) put(mint string, pairs []Pair) {
	if c.ttl <= 0 {
		return
	}
	now := time.Now()
	c.mu.Lock()
	if len(c.entries) >= cacheSweepThreshold {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[mint] = cacheEntry{pairs: pairs, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
}
