package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/reelrank/internal/auth"
)

// AccessTokenValidator validates bearer access tokens.
type AccessTokenValidator interface {
	ValidateAccessToken(token string) (*auth.Claims, error)
}

// bearerToken extracts the access token. Browsers cannot set headers on a
// websocket handshake, so upgrades may pass it as ?access_token= instead.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// RequireAuth rejects requests without a valid access token with 401 and
// otherwise stores the user id in the request context (see GetUserID).
func RequireAuth(validator AccessTokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="reelrank"`)
				writeJSONError(w, r.Context(), http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}

			claims, err := validator.ValidateAccessToken(token)
			if err != nil {
				code, message := "invalid_token", "Invalid access token"
				if errors.Is(err, auth.ErrExpiredToken) {
					code, message = "token_expired", "Access token has expired"
				}
				slog.DebugContext(r.Context(), "access token rejected", "error", err)
				w.Header().Set("WWW-Authenticate", `Bearer realm="reelrank", error="invalid_token"`)
				writeJSONError(w, r.Context(), http.StatusUnauthorized, code, message)
				return
			}

			next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), claims.Subject)))
		})
	}
}
