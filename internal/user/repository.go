// Package user stores ReelRank accounts. Accounts are created on first
// Google sign-in and keyed by the Google subject from then on.
package user

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Errors returned by user repositories.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidSubject     = errors.New("google subject is required")
	ErrInvalidDisplayName = errors.New("display name must be 1 to 64 characters")
	ErrInvalidAvatarKey   = errors.New("avatar key does not belong to user")
)

// MaxDisplayNameLength is measured in runes.
const MaxDisplayNameLength = 64

// User is a ReelRank account.
type User struct {
	ID            string    `json:"id"`
	GoogleSubject string    `json:"-"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	AvatarKey     *string   `json:"avatarKey,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Changes is a partial profile update. Nil fields are left alone; an empty
// AvatarKey clears the avatar.
type Changes struct {
	DisplayName *string
	AvatarKey   *string
}

// Repository persists users.
type Repository interface {
	// UpsertByGoogleSubject creates the user on first sign-in, otherwise
	// refreshes the email. The display name is only used on creation.
	UpsertByGoogleSubject(ctx context.Context, subject, email, displayName string) (*User, error)

	// GetByID returns ErrUserNotFound for unknown or malformed ids.
	GetByID(ctx context.Context, id string) (*User, error)

	// Update applies changes and returns the updated user.
	Update(ctx context.Context, id string, changes Changes) (*User, error)
}

// NormalizeDisplayName trims the name and checks its length.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxDisplayNameLength {
		return "", ErrInvalidDisplayName
	}
	return name, nil
}

// AvatarPrefix is the object key prefix a user's avatars live under.
func AvatarPrefix(userID string) string {
	return "avatars/" + userID + "/"
}

// ValidateAvatarKey rejects keys outside the user's avatar prefix.
func ValidateAvatarKey(userID, key string) error {
	rest, ok := strings.CutPrefix(key, AvatarPrefix(userID))
	if !ok || rest == "" || strings.Contains(rest, "/") || strings.Contains(rest, "..") {
		return ErrInvalidAvatarKey
	}
	return nil
}

// fallbackDisplayName derives a name from the email when Google sends none.
func fallbackDisplayName(displayName, email string) string {
	if name, err := NormalizeDisplayName(displayName); err == nil {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	if name, err := NormalizeDisplayName(local); err == nil {
		return name
	}
	return "Movie fan"
}

// validateChanges normalizes changes for userID in place.
func validateChanges(userID string, changes *Changes) error {
	if changes.DisplayName != nil {
		name, err := NormalizeDisplayName(*changes.DisplayName)
		if err != nil {
			return err
		}
		changes.DisplayName = &name
	}
	if changes.AvatarKey != nil && *changes.AvatarKey != "" {
		if err := ValidateAvatarKey(userID, *changes.AvatarKey); err != nil {
			return err
		}
	}
	return nil
}

// InMemoryRepository is a Repository for tests and single-process runs.
type InMemoryRepository struct {
	mu        sync.RWMutex
	users     map[string]*User
	bySubject map[string]string
	now       func() time.Time
}

// NewInMemoryRepository creates an empty InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:     make(map[string]*User),
		bySubject: make(map[string]string),
		now:       time.Now,
	}
}

// UpsertByGoogleSubject implements Repository.
func (r *InMemoryRepository) UpsertByGoogleSubject(ctx context.Context, subject, email, displayName string) (*User, error) {
	if subject == "" {
		return nil, ErrInvalidSubject
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if id, ok := r.bySubject[subject]; ok {
		u := r.users[id]
		u.Email = email
		u.UpdatedAt = now
		cp := *u
		return &cp, nil
	}

	u := &User{
		ID:            uuid.NewString(),
		GoogleSubject: subject,
		Email:         email,
		DisplayName:   fallbackDisplayName(displayName, email),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.users[u.ID] = u
	r.bySubject[subject] = u.ID

	cp := *u
	return &cp, nil
}

// GetByID implements Repository.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// Update implements Repository.
func (r *InMemoryRepository) Update(ctx context.Context, id string, changes Changes) (*User, error) {
	if err := validateChanges(id, &changes); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if changes.DisplayName != nil {
		u.DisplayName = *changes.DisplayName
	}
	if changes.AvatarKey != nil {
		if *changes.AvatarKey == "" {
			u.AvatarKey = nil
		} else {
			key := *changes.AvatarKey
			u.AvatarKey = &key
		}
	}
	u.UpdatedAt = r.now()

	cp := *u
	return &cp, nil
}
