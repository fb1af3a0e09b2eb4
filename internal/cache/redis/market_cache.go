package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// MarketCache implements domain.MarketListCache by storing each listing as a
// JSON string with a TTL.
//
// Key schema:
//
//	{prefix}:markets:{key} - JSON array of markets
type MarketCache struct {
	c *Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{c: c}
}

// Get returns the cached listing, or ok=false on a miss.
func (mc *MarketCache) Get(ctx context.Context, key string) ([]domain.Market, bool, error) {
	data, err := mc.c.rdb.Get(ctx, mc.c.key("markets", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get markets %s: %w", key, err)
	}
	var markets []domain.Market
	if err := json.Unmarshal(data, &markets); err != nil {
		return nil, false, fmt.Errorf("redis: unmarshal markets %s: %w", key, err)
	}
	return markets, true, nil
}

// Set stores the listing for ttl.
func (mc *MarketCache) Set(ctx context.Context, key string, markets []domain.Market, ttl time.Duration) error {
	data, err := json.Marshal(markets)
	if err != nil {
		return fmt.Errorf("redis: marshal markets %s: %w", key, err)
	}
	if err := mc.c.rdb.Set(ctx, mc.c.key("markets", key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set markets %s: %w", key, err)
	}
	return nil
}

var _ domain.MarketListCache = (*MarketCache)(nil)
