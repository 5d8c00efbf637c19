package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/onnwee/reelrank/internal/middleware"
	"github.com/onnwee/reelrank/internal/upload"
	"github.com/onnwee/reelrank/internal/user"
)

// AvatarStore issues avatar upload URLs and confirms uploads landed.
// *upload.Service implements it.
type AvatarStore interface {
	GenerateAvatarURL(ctx context.Context, userID string, req upload.AvatarRequest) (*upload.SignedURLResponse, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// UpdateProfileRequest is the body of PATCH /me. An empty avatarKey
// removes the avatar.
type UpdateProfileRequest struct {
	DisplayName *string `json:"displayName" validate:"omitempty,notblank,nocontrol,max=64"`
	AvatarKey   *string `json:"avatarKey" validate:"omitempty,max=256"`
}

// PublicProfile is what other users see.
type PublicProfile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	AvatarKey   *string   `json:"avatarKey,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserHandlers serves profiles.
type UserHandlers struct {
	users   user.Repository
	avatars AvatarStore // nil when uploads are not configured
}

// NewUserHandlers creates a new UserHandlers instance. avatars may be nil.
func NewUserHandlers(users user.Repository, avatars AvatarStore) *UserHandlers {
	return &UserHandlers{users: users, avatars: avatars}
}

// GetMe handles GET /me.
func (h *UserHandlers) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.failLookup(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, u)
}

// UpdateMe handles PATCH /me.
func (h *UserHandlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	userID := middleware.GetUserID(r.Context())

	if req.AvatarKey != nil && *req.AvatarKey != "" {
		if err := user.ValidateAvatarKey(userID, *req.AvatarKey); err != nil {
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, "avatarKey must come from POST /uploads/avatar")
			return
		}
		if h.avatars == nil {
			fail(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "Avatar uploads are not enabled")
			return
		}
		exists, err := h.avatars.ObjectExists(r.Context(), *req.AvatarKey)
		if err != nil {
			failInternal(w, r, "failed to check avatar object", err)
			return
		}
		if !exists {
			fail(w, r, http.StatusBadRequest, ErrCodeAvatarMissing, "Avatar has not been uploaded yet")
			return
		}
	}

	u, err := h.users.Update(r.Context(), userID, user.Changes{
		DisplayName: req.DisplayName,
		AvatarKey:   req.AvatarKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, user.ErrInvalidDisplayName):
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, user.ErrInvalidAvatarKey):
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			h.failLookup(w, r, err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, u)
}

// GetUser handles GET /users/{id}.
func (h *UserHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.failLookup(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, PublicProfile{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarKey:   u.AvatarKey,
		CreatedAt:   u.CreatedAt,
	})
}

func (h *UserHandlers) failLookup(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, user.ErrUserNotFound) {
		fail(w, r, http.StatusNotFound, ErrCodeNotFound, "User not found")
		return
	}
	failInternal(w, r, "failed to load user", err)
}
