// Package local provides in-process implementations of the cache
// interfaces for single-process deployments that run without Redis.
package local

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

type marketEntry struct {
	markets []domain.Market
	expires time.Time
}

// MarketCache implements domain.MarketListCache with a TTL map. Expired
// entries are dropped on read.
type MarketCache struct {
	mu      sync.Mutex
	entries map[string]marketEntry
	now     func() time.Time
}

// NewMarketCache returns an empty MarketCache.
func NewMarketCache() *MarketCache {
	return &MarketCache{entries: make(map[string]marketEntry), now: time.Now}
}

func (c *MarketCache) Get(_ context.Context, key string) ([]domain.Market, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return slices.Clone(e.markets), true, nil
}

func (c *MarketCache) Set(_ context.Context, key string, markets []domain.Market, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = marketEntry{markets: slices.Clone(markets), expires: c.now().Add(ttl)}
	return nil
}

var _ domain.MarketListCache = (*MarketCache)(nil)
