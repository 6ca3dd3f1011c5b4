package entitlements

import (
	"sync"
	"time"
)

// TierCacheStats holds tier cache performance counters.
type TierCacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type tierEntry struct {
	sub        *Subscription
	expiration time.Time
	accessTime time.Time
	lastServed time.Time
	sequence   int64
}

// TierCache is a bounded in-process cache for subscription records with TTL
// expiry, LRU eviction, and explicit invalidation by key. It is passed as a
// constructed dependency; there is no package-level instance.
type TierCache struct {
	mu        sync.Mutex
	entries   map[string]*tierEntry
	max       int
	hits      int64
	misses    int64
	evictions int64
	sequence  int64
	now       func() time.Time
}

// NewTierCache creates a cache bounded to max entries (default 1000).
func NewTierCache(max int) *TierCache {
	if max <= 0 {
		max = 1000
	}
	return &TierCache{
		entries: make(map[string]*tierEntry, max),
		max:     max,
		now:     time.Now,
	}
}

// Get returns the cached subscription for userID, if present and unexpired.
func (c *TierCache) Get(userID string) (*Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok || c.now().After(entry.expiration) {
		c.misses++
		return nil, false
	}

	now := c.now()
	entry.accessTime = now
	entry.lastServed = now
	c.hits++

	subCopy := *entry.sub
	return &subCopy, true
}

// Set stores a subscription with the given TTL, evicting the least recently
// used entry when at capacity.
func (c *TierCache) Set(userID string, sub *Subscription, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[userID]; !exists && len(c.entries) >= c.max {
		var oldestKey string
		var oldestTime time.Time
		var oldestSeq int64
		first := true
		for key, entry := range c.entries {
			if first || entry.accessTime.Before(oldestTime) ||
				(entry.accessTime.Equal(oldestTime) && entry.sequence < oldestSeq) {
				oldestKey = key
				oldestTime = entry.accessTime
				oldestSeq = entry.sequence
				first = false
			}
		}
		if oldestKey != "" {
			delete(c.entries, oldestKey)
			c.evictions++
		}
	}

	seq := c.sequence
	c.sequence++
	subCopy := *sub
	c.entries[userID] = &tierEntry{
		sub:        &subCopy,
		expiration: now.Add(ttl),
		accessTime: now,
		sequence:   seq,
	}
}

// Invalidate removes userID from the cache and reports when the dropped
// entry was last served, so callers can detect invalidation gaps (a hit
// served shortly before the billing event that invalidated it).
func (c *TierCache) Invalidate(userID string) (lastServed time.Time, existed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok {
		return time.Time{}, false
	}
	delete(c.entries, userID)
	return entry.lastServed, true
}

// Clear removes all entries.
func (c *TierCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*tierEntry, c.max)
}

// Stats returns cache counters.
func (c *TierCache) Stats() TierCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return TierCacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}
