// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are recorded under their own path.
var staticRoutes = map[string]bool{
	"/":                 true,
	"/auth/google":      true,
	"/auth/refresh":     true,
	"/me":               true,
	"/rankings":         true,
	"/rankings/begin":   true,
	"/rankings/compare": true,
	"/movies/search":    true,
	"/follows":          true,
	"/followers":        true,
	"/feed":             true,
	"/feed/live":        true,
	"/uploads/avatar":   true,
	"/health":           true,
	"/ready":            true,
	"/metrics":          true,
}

// dynamicRoutes maps a first path segment and a segment count to the route
// pattern the path is recorded under.
var dynamicRoutes = []struct {
	prefix   string
	segments int
	suffix   string
	pattern  string
}{
	{"movies", 2, "", "/movies/{id}"},
	{"rankings", 2, "", "/rankings/{itemId}"},
	{"follows", 2, "", "/follows/{userId}"},
	{"users", 2, "", "/users/{id}"},
	{"users", 3, "rankings", "/users/{id}/rankings"},
}

// normalizePath maps a request path to its route pattern so ids do not
// become label values. Unknown paths share the "/other" series.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return "/other"
	}
	for _, r := range dynamicRoutes {
		if parts[0] == r.prefix && len(parts) == r.segments && (r.suffix == "" || parts[len(parts)-1] == r.suffix) {
			return r.pattern
		}
	}
	return "/other"
}

// HTTPMetrics records duration, sizes, counts and in-flight requests per
// normalized route. Probe endpoints are not recorded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			done := metrics.trackInFlight()
			defer done()

			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(rec.status),
				time.Since(start).Seconds(),
				max(r.ContentLength, 0),
				rec.written,
			)
		})
	}
}
