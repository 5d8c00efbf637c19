// Package social manages the follow graph that decides whose activity shows
// up in a user's feed.
package social

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Errors returned by social repositories.
var (
	ErrSelfFollow       = errors.New("cannot follow yourself")
	ErrAlreadyFollowing = errors.New("already following")
	ErrNotFollowing     = errors.New("not following")
	ErrUnknownUser      = errors.New("unknown user")
)

// Follow is a directed edge from follower to followee.
type Follow struct {
	FollowerID string    `json:"followerId"`
	FolloweeID string    `json:"followeeId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Repository persists follows. Lists are ordered newest first.
type Repository interface {
	Follow(ctx context.Context, followerID, followeeID string) (*Follow, error)
	Unfollow(ctx context.Context, followerID, followeeID string) error
	ListFollowing(ctx context.Context, userID string) ([]Follow, error)
	ListFollowers(ctx context.Context, userID string) ([]Follow, error)
	IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error)
}

// FolloweeIDs extracts the followed user ids from a ListFollowing result.
func FolloweeIDs(follows []Follow) []string {
	ids := make([]string, len(follows))
	for i, f := range follows {
		ids[i] = f.FolloweeID
	}
	return ids
}

type edge struct {
	follower, followee string
}

// InMemoryRepository is a Repository backed by a map.
type InMemoryRepository struct {
	mu    sync.RWMutex
	edges map[edge]time.Time
	now   func() time.Time
}

// NewInMemoryRepository creates an empty InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		edges: make(map[edge]time.Time),
		now:   time.Now,
	}
}

// Follow implements Repository.
func (r *InMemoryRepository) Follow(ctx context.Context, followerID, followeeID string) (*Follow, error) {
	if followerID == "" || followeeID == "" {
		return nil, ErrUnknownUser
	}
	if followerID == followeeID {
		return nil, ErrSelfFollow
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := edge{followerID, followeeID}
	if _, ok := r.edges[e]; ok {
		return nil, ErrAlreadyFollowing
	}
	now := r.now()
	r.edges[e] = now
	return &Follow{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: now}, nil
}

// Unfollow implements Repository.
func (r *InMemoryRepository) Unfollow(ctx context.Context, followerID, followeeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := edge{followerID, followeeID}
	if _, ok := r.edges[e]; !ok {
		return ErrNotFollowing
	}
	delete(r.edges, e)
	return nil
}

// ListFollowing implements Repository.
func (r *InMemoryRepository) ListFollowing(ctx context.Context, userID string) ([]Follow, error) {
	return r.list(func(e edge) bool { return e.follower == userID }), nil
}

// ListFollowers implements Repository.
func (r *InMemoryRepository) ListFollowers(ctx context.Context, userID string) ([]Follow, error) {
	return r.list(func(e edge) bool { return e.followee == userID }), nil
}

// IsFollowing implements Repository.
func (r *InMemoryRepository) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.edges[edge{followerID, followeeID}]
	return ok, nil
}

func (r *InMemoryRepository) list(match func(edge) bool) []Follow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Follow{}
	for e, at := range r.edges {
		if match(e) {
			out = append(out, Follow{FollowerID: e.follower, FolloweeID: e.followee, CreatedAt: at})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if out[i].FollowerID != out[j].FollowerID {
			return out[i].FollowerID < out[j].FollowerID
		}
		return out[i].FolloweeID < out[j].FolloweeID
	})
	return out
}
