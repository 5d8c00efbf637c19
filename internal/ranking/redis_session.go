package ranking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL bounds how long an abandoned insertion lingers.
const DefaultSessionTTL = 30 * time.Minute

const sessionKeyPrefix = "ranking:session:"

var sessionEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("ranking: invalid cbor options: %v", err))
	}
	return em
}()

// RedisSessionStore keeps sessions in Redis so any API instance can serve
// the next comparison. Values are CBOR encoded and expire after the TTL;
// every update refreshes the expiry.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl, now: time.Now}
}

func sessionKey(ownerID string) string {
	return sessionKeyPrefix + ownerID
}

// Start writes a fresh session, replacing any existing one.
func (s *RedisSessionStore) Start(ctx context.Context, ownerID string, c Candidate, high int) (*Session, error) {
	sess := &Session{
		OwnerID:   ownerID,
		Candidate: c,
		Low:       0,
		High:      high,
		StartedAt: s.now().UTC(),
	}

	data, err := sessionEncMode.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(ownerID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return sess, nil
}

// Get loads the owner's session.
func (s *RedisSessionStore) Get(ctx context.Context, ownerID string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess Session
	if err := cbor.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

// Update rewrites the bounds only if the session still exists and its
// comparison count still equals version. The read and the write run in a
// WATCH transaction, so a concurrent writer makes this call fail with
// ErrStaleComparison instead of overwriting its bounds.
func (s *RedisSessionStore) Update(ctx context.Context, ownerID string, version, low, high int) error {
	key := sessionKey(ownerID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}

		var sess Session
		if err := cbor.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("failed to decode session: %w", err)
		}
		if sess.Comparisons != version {
			return ErrStaleComparison
		}
		sess.Low = low
		sess.High = high
		sess.Comparisons++

		data, err = sessionEncMode.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// XX keeps an update from resurrecting a session that ended meanwhile.
			pipe.SetArgs(ctx, key, data, redis.SetArgs{Mode: "XX", TTL: s.ttl})
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil, errors.Is(err, redis.Nil):
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrStaleComparison
	case errors.Is(err, ErrStaleComparison):
		return err
	}
	return fmt.Errorf("failed to update session: %w", err)
}

// End deletes the owner's session.
func (s *RedisSessionStore) End(ctx context.Context, ownerID string) error {
	if err := s.client.Del(ctx, sessionKey(ownerID)).Err(); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}
