package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/onnwee/reelrank/internal/middleware"
	"github.com/onnwee/reelrank/internal/ranking"
	"github.com/onnwee/reelrank/internal/user"
)

// BeginRankingRequest is the body of POST /rankings/begin.
type BeginRankingRequest struct {
	ItemID       int64   `json:"itemId" validate:"gt=0"`
	DisplayTitle string  `json:"displayTitle" validate:"required,notblank,nocontrol,max=300"`
	PosterRef    *string `json:"posterRef" validate:"omitempty,max=512"`
}

// CompareRequest is the body of POST /rankings/compare. comparedItemId is
// the pivot the client was shown; zero skips the staleness check.
type CompareRequest struct {
	ComparedItemID  int64 `json:"comparedItemId" validate:"gte=0"`
	PreferredItemID int64 `json:"preferredItemId" validate:"gt=0"`
}

// RankingListResponse is a ranked list, best first.
type RankingListResponse struct {
	OwnerID string          `json:"ownerId"`
	Entries []ranking.Entry `json:"entries"`
}

// RankingHandlers exposes the insertion engine.
type RankingHandlers struct {
	engine *ranking.Engine
	users  user.Repository
}

// NewRankingHandlers creates a new RankingHandlers instance.
func NewRankingHandlers(engine *ranking.Engine, users user.Repository) *RankingHandlers {
	return &RankingHandlers{engine: engine, users: users}
}

// Begin handles POST /rankings/begin.
func (h *RankingHandlers) Begin(w http.ResponseWriter, r *http.Request) {
	var req BeginRankingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.engine.BeginInsertion(r.Context(), middleware.GetUserID(r.Context()), ranking.Candidate{
		ItemID:       req.ItemID,
		DisplayTitle: req.DisplayTitle,
		PosterRef:    req.PosterRef,
	})
	if err != nil {
		failRanking(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// Compare handles POST /rankings/compare.
func (h *RankingHandlers) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.engine.SubmitComparison(r.Context(), middleware.GetUserID(r.Context()),
		req.ComparedItemID, req.PreferredItemID)
	if err != nil {
		failRanking(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// Current handles GET /rankings/compare.
func (h *RankingHandlers) Current(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.ActiveComparison(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		failRanking(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// Cancel handles DELETE /rankings/compare.
func (h *RankingHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CancelInsertion(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		failRanking(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMine handles GET /rankings.
func (h *RankingHandlers) ListMine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, middleware.GetUserID(r.Context()))
}

// ListUser handles GET /users/{id}/rankings. Ranked lists are public.
func (h *RankingHandlers) ListUser(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("id")
	if _, err := h.users.GetByID(r.Context(), ownerID); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			fail(w, r, http.StatusNotFound, ErrCodeNotFound, "User not found")
			return
		}
		failInternal(w, r, "failed to load user", err)
		return
	}
	h.list(w, r, ownerID)
}

func (h *RankingHandlers) list(w http.ResponseWriter, r *http.Request, ownerID string) {
	entries, err := h.engine.List(r.Context(), ownerID)
	if err != nil {
		failRanking(w, r, err)
		return
	}
	if entries == nil {
		entries = []ranking.Entry{}
	}
	writeJSON(w, r, http.StatusOK, RankingListResponse{OwnerID: ownerID, Entries: entries})
}

// Remove handles DELETE /rankings/{itemId}.
func (h *RankingHandlers) Remove(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(r.PathValue("itemId"), 10, 64)
	if err != nil || itemID <= 0 {
		fail(w, r, http.StatusBadRequest, ErrCodeValidation, "itemId must be a positive integer")
		return
	}
	if err := h.engine.Remove(r.Context(), middleware.GetUserID(r.Context()), itemID); err != nil {
		failRanking(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
