package domain

import (
	"context"
	"time"
)

// MarketListCache holds recent market listings to bound gateway traffic.
type MarketListCache interface {
	Get(ctx context.Context, key string) ([]Market, bool, error)
	Set(ctx context.Context, key string, markets []Market, ttl time.Duration) error
}

// HeadlineDedup remembers processed headline hashes for the current window.
type HeadlineDedup interface {
	Seen(ctx context.Context, hash string) (bool, error)
	Mark(ctx context.Context, hash string) error
}

// SignalBus provides publish/subscribe messaging for journal fan-out.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// JobLocker serialises job runs across processes sharing one store.
type JobLocker interface {
	// Acquire returns ErrLockHeld when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
