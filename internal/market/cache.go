package market

import (
	"context"
	"fmt"
	"time"

	"signal-engine/pkg/cache"
)

// DefaultCacheTTL bounds how stale filter inputs may be.
const DefaultCacheTTL = 60 * time.Second

// CachedSource memoizes GetBars results keyed by symbol_timeframe_limit.
type CachedSource struct {
	next  Source
	cache *cache.TTL[[]Bar]
}

// NewCachedSource wraps next with a TTL cache.
func NewCachedSource(next Source, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, cache: cache.NewTTL[[]Bar](ttl)}
}

func (c *CachedSource) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	key := fmt.Sprintf("%s_%s_%d", symbol, timeframe, limit)
	if bars, ok := c.cache.Get(key); ok {
		return bars, nil
	}
	bars, err := c.next.GetBars(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, bars)
	return bars, nil
}

// Clear empties the cache and returns the number of dropped entries.
func (c *CachedSource) Clear() int {
	return c.cache.Clear()
}

// Stats exposes cache occupancy.
func (c *CachedSource) Stats() cache.Stats {
	return c.cache.Stats()
}
