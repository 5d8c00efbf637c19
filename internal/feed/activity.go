// Package feed records what users rank and serves it to their followers,
// both as a cursor-paginated list and as a live websocket stream.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors returned by the feed package.
var (
	ErrInvalidCursor   = errors.New("invalid feed cursor")
	ErrInvalidActivity = errors.New("invalid activity")
)

// KindRanked is the only activity kind: an actor placed a movie.
const KindRanked = "ranked"

// Page size bounds for ListForActors.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Activity is one entry in a friend feed.
type Activity struct {
	ID           string    `json:"id"`
	ActorID      string    `json:"actorId"`
	Kind         string    `json:"kind"`
	ItemID       int64     `json:"itemId"`
	DisplayTitle string    `json:"displayTitle"`
	PosterRef    *string   `json:"posterRef,omitempty"`
	Rank         int       `json:"rank"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (a *Activity) validate() error {
	if a.ActorID == "" || a.ItemID <= 0 || a.Rank < 1 {
		return ErrInvalidActivity
	}
	return nil
}

// Cursor marks the last activity of a page. Pages are ordered by
// CreatedAt descending with ID ascending as the tie-break.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode renders the cursor as "<unix nanos>:<id>".
func (c *Cursor) Encode() string {
	return fmt.Sprintf("%d:%s", c.CreatedAt.UnixNano(), c.ID)
}

// ParseCursor decodes an Encode result. An empty string yields a nil cursor.
func ParseCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	nanos, id, ok := strings.Cut(s, ":")
	if !ok {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil || n <= 0 {
		return nil, ErrInvalidCursor
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// after reports whether a sorts after the cursor position.
func (c *Cursor) after(a *Activity) bool {
	if a.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return a.CreatedAt.Equal(c.CreatedAt) && a.ID > c.ID
}

// ClampLimit maps a requested page size into 1..MaxLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Repository persists activities.
type Repository interface {
	// Record stores a, filling in ID and CreatedAt.
	Record(ctx context.Context, a *Activity) error

	// ListForActors returns up to limit activities by any of actorIDs after
	// cursor, plus the cursor for the next page (nil on the last page).
	ListForActors(ctx context.Context, actorIDs []string, limit int, cursor *Cursor) ([]Activity, *Cursor, error)
}

// InMemoryRepository is a Repository backed by a slice.
type InMemoryRepository struct {
	mu         sync.RWMutex
	activities []Activity
	now        func() time.Time
}

// NewInMemoryRepository creates an empty InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{now: time.Now}
}

// Record implements Repository.
func (r *InMemoryRepository) Record(ctx context.Context, a *Activity) error {
	if err := a.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a.ID = uuid.NewString()
	a.CreatedAt = r.now().UTC()
	if a.Kind == "" {
		a.Kind = KindRanked
	}
	r.activities = append(r.activities, *a)
	return nil
}

// ListForActors implements Repository.
func (r *InMemoryRepository) ListForActors(ctx context.Context, actorIDs []string, limit int, cursor *Cursor) ([]Activity, *Cursor, error) {
	limit = ClampLimit(limit)
	actors := make(map[string]bool, len(actorIDs))
	for _, id := range actorIDs {
		actors[id] = true
	}

	r.mu.RLock()
	matched := make([]Activity, 0)
	for _, a := range r.activities {
		if !actors[a.ActorID] {
			continue
		}
		if cursor != nil && !cursor.after(&a) {
			continue
		}
		matched = append(matched, a)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if len(matched) <= limit {
		return matched, nil, nil
	}
	page := matched[:limit]
	last := page[len(page)-1]
	return page, &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}
