package api

import (
	"errors"
	"net/http"

	"github.com/onnwee/reelrank/internal/middleware"
	"github.com/onnwee/reelrank/internal/upload"
)

// AvatarUploadRequest is the body of POST /uploads/avatar.
type AvatarUploadRequest struct {
	ContentType string `json:"contentType" validate:"required"`
	SizeBytes   int64  `json:"sizeBytes" validate:"gt=0"`
}

// UploadHandlers holds dependencies for upload HTTP handlers.
type UploadHandlers struct {
	avatars AvatarStore
}

// NewUploadHandlers creates a new UploadHandlers instance. A nil store
// makes every request answer 503.
func NewUploadHandlers(avatars AvatarStore) *UploadHandlers {
	return &UploadHandlers{avatars: avatars}
}

// SignAvatar handles POST /uploads/avatar. The client PUTs the image to the
// returned URL, then sets the returned key with PATCH /me.
func (h *UploadHandlers) SignAvatar(w http.ResponseWriter, r *http.Request) {
	if h.avatars == nil {
		fail(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "Avatar uploads are not enabled")
		return
	}

	var req AvatarUploadRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	signed, err := h.avatars.GenerateAvatarURL(r.Context(), middleware.GetUserID(r.Context()), upload.AvatarRequest{
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrUnsupportedType):
			fail(w, r, http.StatusBadRequest, ErrCodeUnsupportedType,
				"Unsupported content type. Allowed types: image/jpeg, image/png, image/webp")
		case errors.Is(err, upload.ErrFileTooLarge):
			fail(w, r, http.StatusBadRequest, ErrCodeFileTooLarge, "File size exceeds maximum allowed")
		case errors.Is(err, upload.ErrInvalidSize):
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, "sizeBytes must be positive")
		default:
			failInternal(w, r, "failed to generate avatar upload URL", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, signed)
}
