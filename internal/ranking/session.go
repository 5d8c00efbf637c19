package ranking

import (
	"context"
	"sync"
	"time"
)

// SessionStore keeps at most one in-progress insertion per owner.
// Engine serializes access per owner; Update is additionally a
// compare-and-set so writers that do not share that lock cannot both
// narrow the same bounds.
type SessionStore interface {
	// Start creates the owner's session with Low = 0 and the given High,
	// replacing any session already open for that owner.
	Start(ctx context.Context, ownerID string, c Candidate, high int) (*Session, error)

	// Get returns the owner's session or ErrNoActiveSession.
	Get(ctx context.Context, ownerID string) (*Session, error)

	// Update narrows the bounds of an existing session and counts one more
	// comparison. version is the Comparisons value the caller read; if the
	// stored session has moved on, Update returns ErrStaleComparison and
	// changes nothing. It is a no-op when the owner has no session.
	Update(ctx context.Context, ownerID string, version, low, high int) error

	// End removes the owner's session. Ending a missing session is not an error.
	End(ctx context.Context, ownerID string) error
}

// InMemorySessionStore holds sessions in process memory. Sessions older
// than the configured TTL are treated as absent and removed by Sweep.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewInMemorySessionStore creates a session store. A ttl of zero keeps
// sessions until they end.
func NewInMemorySessionStore(ttl time.Duration) *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Start opens a session, overwriting any previous one for the owner.
func (s *InMemorySessionStore) Start(ctx context.Context, ownerID string, c Candidate, high int) (*Session, error) {
	sess := &Session{
		OwnerID:   ownerID,
		Candidate: c,
		Low:       0,
		High:      high,
		StartedAt: s.now(),
	}

	s.mu.Lock()
	s.sessions[ownerID] = sess
	s.mu.Unlock()

	cp := *sess
	return &cp, nil
}

// Get returns a copy of the owner's session.
func (s *InMemorySessionStore) Get(ctx context.Context, ownerID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[ownerID]
	if !ok || s.expired(sess) {
		return nil, ErrNoActiveSession
	}
	cp := *sess
	return &cp, nil
}

// Update sets new bounds on the owner's session if one exists and has not
// advanced past version.
func (s *InMemorySessionStore) Update(ctx context.Context, ownerID string, version, low, high int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[ownerID]
	if !ok || s.expired(sess) {
		return nil
	}
	if sess.Comparisons != version {
		return ErrStaleComparison
	}
	sess.Low = low
	sess.High = high
	sess.Comparisons++
	return nil
}

// End removes the owner's session.
func (s *InMemorySessionStore) End(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	delete(s.sessions, ownerID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of live sessions.
func (s *InMemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sess := range s.sessions {
		if !s.expired(sess) {
			n++
		}
	}
	return n
}

// Sweep removes expired sessions and returns how many were removed.
func (s *InMemorySessionStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for owner, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, owner)
			removed++
		}
	}
	return removed
}

func (s *InMemorySessionStore) expired(sess *Session) bool {
	return s.ttl > 0 && s.now().Sub(sess.StartedAt) > s.ttl
}
