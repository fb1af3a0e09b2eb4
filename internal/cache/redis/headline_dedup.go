package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// HeadlineDedup implements domain.HeadlineDedup with one Redis set per
// window bucket. Every hash marked in a bucket expires together when the
// bucket's key does, so the window resets as a whole.
//
// Key schema:
//
//	{prefix}:headlines:{bucket unix} - set of headline hashes
type HeadlineDedup struct {
	c      *Client
	window time.Duration
	now    func() time.Time
}

// NewHeadlineDedup creates a HeadlineDedup with the given window.
func NewHeadlineDedup(c *Client, window time.Duration) *HeadlineDedup {
	if window <= 0 {
		window = time.Hour
	}
	return &HeadlineDedup{c: c, window: window, now: time.Now}
}

func (d *HeadlineDedup) bucketKey() string {
	bucket := d.now().UTC().Truncate(d.window).Unix()
	return d.c.key("headlines", strconv.FormatInt(bucket, 10))
}

// Seen reports whether hash was marked in the current window.
func (d *HeadlineDedup) Seen(ctx context.Context, hash string) (bool, error) {
	ok, err := d.c.rdb.SIsMember(ctx, d.bucketKey(), hash).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup check: %w", err)
	}
	return ok, nil
}

// Mark records hash for the rest of the current window.
func (d *HeadlineDedup) Mark(ctx context.Context, hash string) error {
	key := d.bucketKey()
	pipe := d.c.rdb.TxPipeline()
	pipe.SAdd(ctx, key, hash)
	pipe.Expire(ctx, key, d.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: dedup mark: %w", err)
	}
	return nil
}

var _ domain.HeadlineDedup = (*HeadlineDedup)(nil)
