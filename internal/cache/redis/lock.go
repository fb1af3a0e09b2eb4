package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so one holder never releases another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// JobLock implements domain.JobLocker with SET NX and a TTL. It keeps two
// engines that share one database from running the same job concurrently.
//
// Key schema:
//
//	{prefix}:lock:{key} - random token of the holder
type JobLock struct {
	c        *Client
	unlockSc *redis.Script
}

// NewJobLock creates a JobLock backed by the given Client.
func NewJobLock(c *Client) *JobLock {
	return &JobLock{c: c, unlockSc: redis.NewScript(unlockLua)}
}

// Acquire takes the lock for key for at most ttl. It returns
// domain.ErrLockHeld when another holder has it. The returned release
// function is safe to call more than once.
func (l *JobLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := l.c.key("lock", key)

	ok, err := l.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = l.unlockSc.Run(releaseCtx, l.c.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}

var _ domain.JobLocker = (*JobLock)(nil)
