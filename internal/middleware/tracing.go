package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader carries the trace id of a sampled request back to the client.
const TraceIDHeader = "X-Trace-ID"

// Tracing starts a server span per request and continues any incoming W3C
// trace context. Spans are named "METHOD route" with the same route
// normalization as the HTTP metrics, e.g. "GET /users/{id}/rankings".
// The trace id is added to the request log line and, when the span is
// sampled, to the response headers.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := GetTraceID(r); id != "" {
				if f := requestLogFrom(r.Context()); f != nil {
					f.traceID = id
				}
				if trace.SpanContextFromContext(r.Context()).IsSampled() {
					w.Header().Set(TraceIDHeader, id)
				}
			}
			next.ServeHTTP(w, r)
		})
		return otelhttp.NewHandler(inner, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + normalizePath(r.URL.Path)
			}),
		)
	}
}

// GetTraceID returns the active trace id, or "" when there is no valid span.
func GetTraceID(r *http.Request) string {
	if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
