package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/reelrank/internal/idempotency"
)

const (
	// IdempotencyKeyHeader is the request header naming a retryable write.
	IdempotencyKeyHeader = "Idempotency-Key"

	// IdempotentReplayedHeader marks a response served from the store.
	IdempotentReplayedHeader = "Idempotent-Replayed"
)

// maxFingerprintBytes caps how much of a request body is hashed. Bodies
// past it are still passed on whole; the API rejects them anyway.
const maxFingerprintBytes = 1 << 20

type idempotencyKeyContextKey struct{}

// bodyRecorder keeps a copy of everything written through it.
type bodyRecorder struct {
	*statusRecorder
	body bytes.Buffer
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	n, err := b.statusRecorder.Write(p)
	b.body.Write(p[:n])
	return n, err
}

// GetIdempotencyKey returns the validated key of the current request, or "".
func GetIdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyContextKey{}).(string)
	return key
}

// readFingerprint hashes the start of the request body and puts the bytes
// it consumed back in front of the rest.
func readFingerprint(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return idempotency.HashRequest(nil), nil
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprintBytes))
	if err != nil {
		return "", err
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	return idempotency.HashRequest(head), nil
}

// Idempotency replays the stored response when an authenticated caller
// repeats a request with the same Idempotency-Key. A key reused with a
// different method, route or body is refused with 422. Requests without the
// header, or without a user in context, pass straight through. Only 2xx
// responses are stored. metrics may be nil.
//
// Two concurrent first requests with one key both run; the second Store
// loses with ErrKeyExists and is logged.
func Idempotency(repo idempotency.Repository, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			userID := GetUserID(r.Context())
			if key == "" || userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			switch err := idempotency.ValidateKey(key); {
			case errors.Is(err, idempotency.ErrKeyTooLong):
				writeJSONError(w, r.Context(), http.StatusBadRequest, "idempotency_key_too_long",
					"Idempotency-Key exceeds maximum length of 64 characters")
				return
			case err != nil:
				writeJSONError(w, r.Context(), http.StatusBadRequest, "invalid_idempotency_key",
					"Invalid Idempotency-Key format")
				return
			}

			ctx := context.WithValue(r.Context(), idempotencyKeyContextKey{}, key)
			r = r.WithContext(ctx)

			fingerprint, err := readFingerprint(r)
			if err != nil {
				writeJSONError(w, ctx, http.StatusBadRequest, "bad_request", "Could not read request body")
				return
			}

			stored, err := repo.Get(ctx, userID, key)
			switch {
			case err == nil && !stored.Matches(r.Method, r.URL.Path, fingerprint):
				writeJSONError(w, ctx, http.StatusUnprocessableEntity, "idempotency_key_reused",
					"Idempotency-Key was already used for a different request")
				return
			case err == nil:
				metrics.IncIdempotentReplays(normalizePath(r.URL.Path))
				slog.DebugContext(ctx, "replaying stored response", "key", key, "status", stored.Status)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set(IdempotentReplayedHeader, "true")
				w.WriteHeader(stored.Status)
				_, _ = io.WriteString(w, stored.Body)
				return
			case !errors.Is(err, idempotency.ErrKeyNotFound):
				// Store outage: run the request unprotected rather than fail it.
				slog.ErrorContext(ctx, "failed to check idempotency key", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			rec := &bodyRecorder{statusRecorder: newStatusRecorder(w)}
			next.ServeHTTP(rec, r)
			if rec.status < 200 || rec.status >= 300 {
				return
			}

			record := idempotency.NewRecord(userID, key, r.Method, r.URL.Path, fingerprint, rec.status, rec.body.Bytes())
			if err := repo.Store(context.WithoutCancel(ctx), record); err != nil {
				slog.WarnContext(ctx, "failed to store idempotency record", "key", key, "error", err)
			}
		})
	}
}
