package middleware

import "context"

type userIDKey struct{}

// requestLogKey carries the fields handlers and inner middleware report back
// to Logging after it has built the request context.
type requestLogKey struct{}

type requestLog struct {
	userID    string
	errorCode string
	traceID   string
}

func requestLogFrom(ctx context.Context) *requestLog {
	l, _ := ctx.Value(requestLogKey{}).(*requestLog)
	return l
}

// SetUserID stores the authenticated user id in the context and reports it to
// the request log.
func SetUserID(ctx context.Context, userID string) context.Context {
	if l := requestLogFrom(ctx); l != nil {
		l.userID = userID
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

// GetUserID returns the authenticated user id, or "" on anonymous requests.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// RecordErrorCode attaches the machine-readable error code of the response to
// the request log line. It is a no-op outside Logging.
func RecordErrorCode(ctx context.Context, code string) {
	if l := requestLogFrom(ctx); l != nil {
		l.errorCode = code
	}
}

