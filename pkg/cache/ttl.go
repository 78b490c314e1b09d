package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// TTL is a sharded key/value cache whose entries expire after a fixed age.
type TTL[V any] struct {
	ttl    time.Duration
	now    func() time.Time
	shards [numShards]*shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// NewTTL creates a cache. A non-positive ttl keeps entries until Clear.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	c := &TTL[V]{ttl: ttl, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return c
}

func (c *TTL[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores value under key.
func (c *TTL[V]) Set(key string, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, storedAt: c.now()}
	s.mu.Unlock()
}

// Get returns the value if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || c.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetWithAge returns the value and how long ago it was stored.
func (c *TTL[V]) GetWithAge(key string) (V, time.Duration, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || c.expired(e) {
		var zero V
		return zero, 0, false
	}
	return e.value, c.now().Sub(e.storedAt), true
}

func (c *TTL[V]) expired(e entry[V]) bool {
	return c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total items across all shards, expired ones included.
func (c *TTL[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup drops expired entries and returns how many were removed.
func (c *TTL[V]) Cleanup() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if c.expired(e) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Clear drops every entry and returns how many were removed.
func (c *TTL[V]) Clear() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		removed += len(s.items)
		s.items = make(map[string]entry[V])
		s.mu.Unlock()
	}
	return removed
}

// Stats provides cache statistics.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats returns cache statistics.
func (c *TTL[V]) Stats() Stats {
	stats := Stats{}
	var oldest time.Time
	for i, s := range c.shards {
		s.mu.RLock()
		stats.ShardCounts[i] = len(s.items)
		stats.TotalItems += len(s.items)
		for _, e := range s.items {
			if oldest.IsZero() || e.storedAt.Before(oldest) {
				oldest = e.storedAt
			}
		}
		s.mu.RUnlock()
	}
	if !oldest.IsZero() {
		stats.OldestAge = c.now().Sub(oldest)
	}
	return stats
}
