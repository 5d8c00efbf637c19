package api

import (
	"errors"
	"net/http"

	"github.com/onnwee/reelrank/internal/middleware"
	"github.com/onnwee/reelrank/internal/social"
	"github.com/onnwee/reelrank/internal/user"
)

// FollowListResponse wraps a follow list.
type FollowListResponse struct {
	Follows []social.Follow `json:"follows"`
}

// SocialHandlers manages the follow graph.
type SocialHandlers struct {
	follows social.Repository
	users   user.Repository
}

// NewSocialHandlers creates a new SocialHandlers instance.
func NewSocialHandlers(follows social.Repository, users user.Repository) *SocialHandlers {
	return &SocialHandlers{follows: follows, users: users}
}

// Follow handles POST /follows/{userId}.
func (h *SocialHandlers) Follow(w http.ResponseWriter, r *http.Request) {
	followerID := middleware.GetUserID(r.Context())
	followeeID := r.PathValue("userId")
	if followeeID == followerID {
		fail(w, r, http.StatusBadRequest, ErrCodeSelfFollow, "You cannot follow yourself")
		return
	}
	if _, err := h.users.GetByID(r.Context(), followeeID); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			fail(w, r, http.StatusNotFound, ErrCodeNotFound, "User not found")
			return
		}
		failInternal(w, r, "failed to load followee", err)
		return
	}

	f, err := h.follows.Follow(r.Context(), followerID, followeeID)
	if err != nil {
		switch {
		case errors.Is(err, social.ErrSelfFollow):
			fail(w, r, http.StatusBadRequest, ErrCodeSelfFollow, "You cannot follow yourself")
		case errors.Is(err, social.ErrAlreadyFollowing):
			fail(w, r, http.StatusConflict, ErrCodeAlreadyFollowing, "Already following this user")
		case errors.Is(err, social.ErrUnknownUser):
			fail(w, r, http.StatusNotFound, ErrCodeNotFound, "User not found")
		default:
			failInternal(w, r, "failed to follow user", err)
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, f)
}

// Unfollow handles DELETE /follows/{userId}.
func (h *SocialHandlers) Unfollow(w http.ResponseWriter, r *http.Request) {
	err := h.follows.Unfollow(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("userId"))
	if err != nil {
		if errors.Is(err, social.ErrNotFollowing) {
			fail(w, r, http.StatusNotFound, ErrCodeNotFollowing, "Not following this user")
			return
		}
		failInternal(w, r, "failed to unfollow user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Following handles GET /follows.
func (h *SocialHandlers) Following(w http.ResponseWriter, r *http.Request) {
	follows, err := h.follows.ListFollowing(r.Context(), middleware.GetUserID(r.Context()))
	h.writeList(w, r, follows, err)
}

// Followers handles GET /followers.
func (h *SocialHandlers) Followers(w http.ResponseWriter, r *http.Request) {
	follows, err := h.follows.ListFollowers(r.Context(), middleware.GetUserID(r.Context()))
	h.writeList(w, r, follows, err)
}

func (h *SocialHandlers) writeList(w http.ResponseWriter, r *http.Request, follows []social.Follow, err error) {
	if err != nil {
		failInternal(w, r, "failed to list follows", err)
		return
	}
	if follows == nil {
		follows = []social.Follow{}
	}
	writeJSON(w, r, http.StatusOK, FollowListResponse{Follows: follows})
}
