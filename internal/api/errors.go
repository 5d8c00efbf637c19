// Package api implements the ReelRank HTTP handlers and the shared error
// envelope they write.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/reelrank/internal/middleware"
	"github.com/onnwee/reelrank/internal/ranking"
	"github.com/onnwee/reelrank/internal/validate"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeAuthFailed indicates a rejected sign-in or refresh.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict = "conflict"

	// ErrCodeUnavailable indicates a dependency is down or disabled.
	ErrCodeUnavailable = "service_unavailable"
)

// Ranking error codes.
const (
	ErrCodeDuplicateItem               = "duplicate_item"
	ErrCodeNoActiveSession             = "no_active_session"
	ErrCodeInvalidPreference           = "invalid_preference"
	ErrCodeStaleComparison             = "stale_comparison"
	ErrCodeInsertionInProgress         = "insertion_in_progress"
	ErrCodeComparisonTargetUnavailable = "comparison_target_unavailable"
	ErrCodeRankingBusy                 = "ranking_busy"
)

// Social, feed and upload error codes.
const (
	ErrCodeSelfFollow       = "self_follow"
	ErrCodeAlreadyFollowing = "already_following"
	ErrCodeNotFollowing     = "not_following"
	ErrCodeInvalidCursor    = "invalid_cursor"
	ErrCodeUnsupportedType  = "unsupported_type"
	ErrCodeFileTooLarge     = "file_too_large"
	ErrCodeAvatarMissing    = "avatar_not_uploaded"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Fields  []validate.FieldError `json:"fields,omitempty"`
}

// WriteError writes a standardized JSON error response.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The code is also attached to the request log line.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	writeErrorDetail(w, ctx, status, ErrorDetail{Code: code, Message: message})
}

func writeErrorDetail(w http.ResponseWriter, ctx context.Context, status int, detail ErrorDetail) {
	middleware.RecordErrorCode(ctx, detail.Code)

	data, err := json.Marshal(ErrorResponse{Error: detail})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// fail sets the error code on the request context and writes the envelope.
func fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteError(w, r.Context(), status, code, message)
}

// failInternal logs err with msg and writes a generic 500.
func failInternal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.ErrorContext(r.Context(), msg, "error", err)
	fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
}

// failValidation writes a 400 listing the failed fields.
func failValidation(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validate.Error
	if !errors.As(err, &verr) {
		fail(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	writeErrorDetail(w, r.Context(), http.StatusBadRequest, ErrorDetail{
		Code:    ErrCodeValidation,
		Message: verr.Error(),
		Fields:  verr.Fields,
	})
}

// decodeAndValidate reads a JSON body into dst and checks its validate
// tags. It writes the error response and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, r, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Request body too large")
			return false
		}
		fail(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		failValidation(w, r, err)
		return false
	}
	return true
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// rankingStatus maps engine errors to a status, code and client message.
// ok is false for errors that should be logged and hidden.
func rankingStatus(err error) (status int, code, message string, ok bool) {
	switch {
	case errors.Is(err, ranking.ErrInvalidCandidate):
		return http.StatusBadRequest, ErrCodeValidation, "Movie needs a positive itemId and a displayTitle", true
	case errors.Is(err, ranking.ErrDuplicateItem):
		return http.StatusBadRequest, ErrCodeDuplicateItem, "Movie is already in your ranking", true
	case errors.Is(err, ranking.ErrNoActiveSession):
		return http.StatusBadRequest, ErrCodeNoActiveSession, "No ranking in progress", true
	case errors.Is(err, ranking.ErrInvalidPreference):
		return http.StatusBadRequest, ErrCodeInvalidPreference, "Preferred movie must be one of the two being compared", true
	case errors.Is(err, ranking.ErrStaleComparison):
		return http.StatusConflict, ErrCodeStaleComparison, "Comparison no longer matches the current pair", true
	case errors.Is(err, ranking.ErrInsertionInProgress):
		return http.StatusConflict, ErrCodeInsertionInProgress, "Finish or cancel the ranking in progress first", true
	case errors.Is(err, ranking.ErrEntryNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "Movie is not in your ranking", true
	case errors.Is(err, ranking.ErrOwnerBusy):
		return http.StatusConflict, ErrCodeRankingBusy, "Another request is updating your ranking, please retry", true
	case errors.Is(err, ranking.ErrInvalidRank):
		// The engine computes every rank itself, so an out-of-range rank is a
		// server fault rather than bad input.
		return http.StatusInternalServerError, ErrCodeInternal, "Internal server error", false
	case errors.Is(err, ranking.ErrComparisonTargetUnavailable):
		return http.StatusInternalServerError, ErrCodeComparisonTargetUnavailable, "Ranking changed during comparison, please start again", false
	}
	return http.StatusInternalServerError, ErrCodeInternal, "Internal server error", false
}

// failRanking writes the response for an engine error.
func failRanking(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, ok := rankingStatus(err)
	if !ok {
		slog.ErrorContext(r.Context(), "ranking operation failed", "error", err)
	}
	fail(w, r, status, code, message)
}
