package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/reelrank/internal/auth"
	"github.com/onnwee/reelrank/internal/user"
)

// ErrCodeTokenExpired tells the client to sign in again.
const ErrCodeTokenExpired = "token_expired"

// GoogleSignInRequest is the body of POST /auth/google.
type GoogleSignInRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// AuthResponse carries a fresh token pair and the signed-in user.
type AuthResponse struct {
	auth.TokenPair
	User *user.User `json:"user"`
}

// AuthHandlers exchanges Google ID tokens and refresh tokens for API tokens.
type AuthHandlers struct {
	users    user.Repository
	verifier auth.GoogleVerifier
	tokens   *auth.JWTService
}

// NewAuthHandlers creates a new AuthHandlers instance.
func NewAuthHandlers(users user.Repository, verifier auth.GoogleVerifier, tokens *auth.JWTService) *AuthHandlers {
	return &AuthHandlers{users: users, verifier: verifier, tokens: tokens}
}

// GoogleSignIn handles POST /auth/google. The account is created on first
// sign-in.
func (h *AuthHandlers) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	var req GoogleSignInRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	identity, err := h.verifier.Verify(r.Context(), req.IDToken)
	if err != nil {
		slog.InfoContext(r.Context(), "google sign-in rejected", "error", err)
		message := "Google sign-in failed"
		if errors.Is(err, auth.ErrEmailNotVerified) {
			message = "Google account email is not verified"
		}
		fail(w, r, http.StatusUnauthorized, ErrCodeAuthFailed, message)
		return
	}

	u, err := h.users.UpsertByGoogleSubject(r.Context(), identity.Subject, identity.Email, identity.Name)
	if err != nil {
		failInternal(w, r, "failed to upsert user", err)
		return
	}
	h.issue(w, r, u)
}

// Refresh handles POST /auth/refresh. The refresh token is rotated along
// with the access token.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	claims, err := h.tokens.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			fail(w, r, http.StatusUnauthorized, ErrCodeTokenExpired, "Refresh token has expired")
			return
		}
		fail(w, r, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid refresh token")
		return
	}

	u, err := h.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			fail(w, r, http.StatusUnauthorized, ErrCodeAuthFailed, "Account no longer exists")
			return
		}
		failInternal(w, r, "failed to load user for refresh", err)
		return
	}
	h.issue(w, r, u)
}

func (h *AuthHandlers) issue(w http.ResponseWriter, r *http.Request, u *user.User) {
	pair, err := h.tokens.IssuePair(u.ID, u.Email)
	if err != nil {
		failInternal(w, r, "failed to issue tokens", err)
		return
	}
	writeJSON(w, r, http.StatusOK, AuthResponse{TokenPair: pair, User: u})
}
