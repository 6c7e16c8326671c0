package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process TTL cache with least-recently-used eviction
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	now        func() time.Time
	stats      Stats
}

type cacheEntry struct {
	value    []byte
	expires  time.Time // zero means no expiry
	accessed time.Time
}

// Stats reports cache effectiveness
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// NewMemory creates a memory cache bounded to maxEntries
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Memory{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get retrieves a value if present and not expired
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.stats.Misses++
		return nil, false
	}

	now := c.now()
	if !entry.expires.IsZero() && now.After(entry.expires) {
		delete(c.entries, key)
		c.stats.Misses++
		return nil, false
	}

	entry.accessed = now
	c.stats.Hits++
	return entry.value, true
}

// Set stores a copy of val with a TTL; ttl <= 0 never expires
func (c *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}

	now := c.now()
	entry := &cacheEntry{value: append([]byte(nil), val...), accessed: now}
	if ttl > 0 {
		entry.expires = now.Add(ttl)
	}
	c.entries[key] = entry
}

// Stats returns a copy of the counters
func (c *Memory) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// evictLRU drops expired entries first, then the least recently used one.
// Caller holds the lock.
func (c *Memory) evictLRU() {
	now := c.now()
	for key, entry := range c.entries {
		if !entry.expires.IsZero() && now.After(entry.expires) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.accessed.Before(oldest) {
			oldestKey, oldest = key, entry.accessed
		}
	}
	delete(c.entries, oldestKey)
	c.stats.Evictions++
}
