package ranking

import (
	"context"
	"sync"
	"time"
)

// Store persists ranked entries. Implementations must keep each owner's
// ranks contiguous from 1 after every successful call.
type Store interface {
	// List returns the owner's entries ordered by rank ascending.
	List(ctx context.Context, ownerID string) ([]Entry, error)

	// Count returns the number of entries the owner has ranked.
	Count(ctx context.Context, ownerID string) (int, error)

	// FindByItem returns the owner's entry for itemID or ErrEntryNotFound.
	FindByItem(ctx context.Context, ownerID string, itemID int64) (*Entry, error)

	// InsertAtRank shifts every entry at or below rank down by one and
	// inserts the candidate at rank in one atomic step.
	// Returns ErrInvalidRank unless 1 <= rank <= N+1 and ErrDuplicateItem
	// if the item is already ranked.
	InsertAtRank(ctx context.Context, ownerID string, c Candidate, rank int) (*Entry, error)

	// RemoveAndCompact deletes the entry and moves every entry ranked below
	// it up by one. Returns ErrEntryNotFound if the item is not ranked.
	RemoveAndCompact(ctx context.Context, ownerID string, itemID int64) error
}

// InMemoryStore is an in-memory Store for tests and single-instance
// development. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry // ownerID -> entries in rank order
	now     func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string][]Entry),
		now:     time.Now,
	}
}

// List returns a copy of the owner's entries in rank order.
func (s *InMemoryStore) List(ctx context.Context, ownerID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.entries[ownerID]
	out := make([]Entry, len(src))
	copy(out, src)
	return out, nil
}

// Count returns the number of entries for the owner.
func (s *InMemoryStore) Count(ctx context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[ownerID]), nil
}

// FindByItem returns a copy of the owner's entry for itemID.
func (s *InMemoryStore) FindByItem(ctx context.Context, ownerID string, itemID int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries[ownerID] {
		if e.ItemID == itemID {
			found := e
			return &found, nil
		}
	}
	return nil, ErrEntryNotFound
}

// InsertAtRank inserts the candidate at rank and renumbers the entries after it.
func (s *InMemoryStore) InsertAtRank(ctx context.Context, ownerID string, c Candidate, rank int) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[ownerID]
	if rank < 1 || rank > len(list)+1 {
		return nil, ErrInvalidRank
	}
	for _, e := range list {
		if e.ItemID == c.ItemID {
			return nil, ErrDuplicateItem
		}
	}

	now := s.now()
	entry := Entry{
		OwnerID:      ownerID,
		ItemID:       c.ItemID,
		DisplayTitle: c.DisplayTitle,
		PosterRef:    c.PosterRef,
		Rank:         rank,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	next := make([]Entry, 0, len(list)+1)
	next = append(next, list[:rank-1]...)
	next = append(next, entry)
	next = append(next, list[rank-1:]...)
	for i := rank; i < len(next); i++ {
		next[i].Rank = i + 1
		next[i].UpdatedAt = now
	}
	s.entries[ownerID] = next

	return &entry, nil
}

// RemoveAndCompact removes the item and closes the gap it leaves.
func (s *InMemoryStore) RemoveAndCompact(ctx context.Context, ownerID string, itemID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[ownerID]
	idx := -1
	for i, e := range list {
		if e.ItemID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrEntryNotFound
	}

	now := s.now()
	next := make([]Entry, 0, len(list)-1)
	next = append(next, list[:idx]...)
	next = append(next, list[idx+1:]...)
	for i := idx; i < len(next); i++ {
		next[i].Rank = i + 1
		next[i].UpdatedAt = now
	}

	if len(next) == 0 {
		delete(s.entries, ownerID)
	} else {
		s.entries[ownerID] = next
	}
	return nil
}
