package redis

import (
	"context"
	"time"

	"talkroom_server/pkg/constants"
	"talkroom_server/pkg/errorx"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when the caller still owns it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// Lock is a held named lock. The token is the ownership guard: release
// is a no-op when the lock expired and was reacquired by someone else.
type Lock struct {
	cache *Cache
	key   string
	token string
}

// AcquireLock takes a TTL'd named lock with bounded retry. The TTL makes
// expired locks reclaimable; a holder that outlives the TTL loses
// ownership and its release does nothing.
func (c *Cache) AcquireLock(ctx context.Context, key string) (*Lock, error) {
	return c.AcquireLockWith(ctx, key, constants.LockTimeout, constants.LockRetryCount, constants.LockRetryDelay)
}

// AcquireLockWith is AcquireLock with explicit ttl/retry parameters.
func (c *Cache) AcquireLockWith(ctx context.Context, key string, ttl time.Duration, retries int, delay time.Duration) (*Lock, error) {
	token := uuid.New().String()
	for attempt := 0; attempt < retries; attempt++ {
		ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, wrapCacheError(err, "lock", key)
		}
		if ok {
			return &Lock{cache: c, key: key, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errorx.Wrapf(ctx.Err(), errorx.CodeInternalServerError, "lock %s cancelled", key)
		case <-time.After(delay):
		}
	}
	return nil, errorx.Newf(errorx.CodeInternalServerError, "could not acquire lock %s", key)
}

// Release gives the lock back if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	err := l.cache.rdb.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
	if err != nil && err != redis.Nil {
		return wrapCacheError(err, "unlock", l.key)
	}
	return nil
}
