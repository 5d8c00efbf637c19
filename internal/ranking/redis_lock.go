package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OwnerLocker serializes an owner's ranking calls across processes. Acquire
// blocks until the caller holds the owner's lock and returns its release
// function.
type OwnerLocker interface {
	Acquire(ctx context.Context, ownerID string) (release func(), err error)
}

const ownerLockKeyPrefix = "ranking:lock:"

// Defaults for RedisOwnerLocker.
const (
	DefaultOwnerLockTTL   = 10 * time.Second
	DefaultOwnerLockWait  = 5 * time.Second
	defaultOwnerLockRetry = 25 * time.Millisecond
)

// releaseOwnerLock deletes the key only while it still holds our token, so
// a holder whose lock expired cannot release the next holder's lock.
var releaseOwnerLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOwnerLocker is an OwnerLocker built on SET NX PX. The TTL bounds how
// long a crashed holder can block the owner.
type RedisOwnerLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisOwnerLocker creates a locker. Non-positive durations take the
// package defaults.
func NewRedisOwnerLocker(client *redis.Client, ttl, wait time.Duration) *RedisOwnerLocker {
	if ttl <= 0 {
		ttl = DefaultOwnerLockTTL
	}
	if wait <= 0 {
		wait = DefaultOwnerLockWait
	}
	return &RedisOwnerLocker{client: client, ttl: ttl, wait: wait, retry: defaultOwnerLockRetry}
}

func ownerLockKey(ownerID string) string {
	return ownerLockKeyPrefix + ownerID
}

// Acquire polls for the owner's lock until it is free, the wait elapses
// (ErrOwnerBusy) or ctx is done.
func (l *RedisOwnerLocker) Acquire(ctx context.Context, ownerID string) (func(), error) {
	key := ownerLockKey(ownerID)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err == nil && ok {
			release := func() {
				_ = releaseOwnerLock.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err()
			}
			return release, nil
		}
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire owner lock: %w", err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrOwnerBusy
		case <-ticker.C:
		}
	}
}
