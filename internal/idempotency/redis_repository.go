package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

// RedisRepository stores records in Redis with a TTL, so expiry needs no
// cleanup job.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisRepository creates a Redis-backed repository. A non-positive ttl
// means DefaultExpiry.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = DefaultExpiry
	}
	return &RedisRepository{client: client, ttl: ttl, now: time.Now}
}

func redisKey(userID, key string) string {
	return redisKeyPrefix + userID + ":" + key
}

// Get retrieves a record.
func (r *RedisRepository) Get(ctx context.Context, userID, key string) (*Record, error) {
	data, err := r.client.Get(ctx, redisKey(userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}

	var rec Record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

// Store saves a record unless one already exists for the key.
func (r *RedisRepository) Store(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	rec := *record
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	ok, err := r.client.SetNX(ctx, redisKey(rec.UserID, rec.Key), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("store idempotency record: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}

// DeleteOlderThan is a no-op; Redis expires records on its own.
func (r *RedisRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return 0, nil
}
