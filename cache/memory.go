package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/interpose/interceptors"
)

// Stats reports cache effectiveness
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is an in-process ResultCache with an optional TTL
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates a cache. A ttl of zero keeps entries until deleted.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get implements interceptors.ResultCache
func (c *MemoryCache) Get(ctx context.Context, key string) (any, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}

	if entry.expired(c.now()) {
		c.mu.Lock()
		// Only drop the entry if nobody refreshed it meanwhile
		if current, still := c.entries[key]; still && current.expired(c.now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)
	return entry.value, true, nil
}

// Set implements interceptors.ResultCache
func (c *MemoryCache) Set(ctx context.Context, key string, value any) error {
	entry := memoryEntry{value: value}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

// Delete removes a key
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Purge drops expired entries and returns how many were removed
func (c *MemoryCache) Purge() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns hit, miss and entry counts
func (c *MemoryCache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: entries,
	}
}

// MemoryDuplicateDetector remembers processed keys in process for a TTL
type MemoryDuplicateDetector struct {
	cache *MemoryCache
}

// NewMemoryDuplicateDetector creates a detector. A ttl of zero remembers keys
// forever.
func NewMemoryDuplicateDetector(ttl time.Duration) *MemoryDuplicateDetector {
	return &MemoryDuplicateDetector{cache: NewMemoryCache(ttl)}
}

// IsDuplicate implements interceptors.DuplicateDetector
func (d *MemoryDuplicateDetector) IsDuplicate(ctx context.Context, key string) (bool, error) {
	_, found, err := d.cache.Get(ctx, key)
	return found, err
}

// MarkProcessed implements interceptors.DuplicateDetector
func (d *MemoryDuplicateDetector) MarkProcessed(ctx context.Context, key string) error {
	return d.cache.Set(ctx, key, struct{}{})
}

var (
	_ interceptors.ResultCache       = (*MemoryCache)(nil)
	_ interceptors.DuplicateDetector = (*MemoryDuplicateDetector)(nil)
)
