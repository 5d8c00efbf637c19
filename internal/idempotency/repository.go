package idempotency

import (
	"context"
	"sync"
	"time"
)

type scopedKey struct {
	userID string
	key    string
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[scopedKey]Record
	now     func() time.Time
}

// NewInMemoryRepository creates a new in-memory idempotency repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[scopedKey]Record),
		now:     time.Now,
	}
}

// Get retrieves a record. The returned value is a copy.
func (r *InMemoryRepository) Get(ctx context.Context, userID, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[scopedKey{userID, key}]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &rec, nil
}

// Store saves a new record.
func (r *InMemoryRepository) Store(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := scopedKey{record.UserID, record.Key}
	if _, exists := r.records[k]; exists {
		return ErrKeyExists
	}

	rec := *record
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	r.records[k] = rec
	return nil
}

// DeleteOlderThan removes records created before now minus age.
func (r *InMemoryRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-age)
	var deleted int64
	for k, rec := range r.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.records, k)
			deleted++
		}
	}
	return deleted, nil
}
