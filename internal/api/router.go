package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/reelrank/internal/auth"
	"github.com/onnwee/reelrank/internal/feed"
	"github.com/onnwee/reelrank/internal/health"
	"github.com/onnwee/reelrank/internal/idempotency"
	"github.com/onnwee/reelrank/internal/middleware"
	"github.com/onnwee/reelrank/internal/movie"
	"github.com/onnwee/reelrank/internal/ranking"
	"github.com/onnwee/reelrank/internal/social"
	"github.com/onnwee/reelrank/internal/user"
)

// RouterConfig lists everything the HTTP surface depends on.
type RouterConfig struct {
	Logger      *slog.Logger
	ServiceName string

	Tokens   *auth.JWTService
	Verifier auth.GoogleVerifier

	Users       user.Repository
	Engine      *ranking.Engine
	Catalog     movie.Catalog
	Follows     social.Repository
	Feed        *feed.Service
	Broadcaster *feed.Broadcaster
	Avatars     AvatarStore // nil disables avatar uploads
	Probes      []health.Probe

	Idempotency    idempotency.Repository
	RateLimitStore middleware.RateLimitStore
	RankingLimit   middleware.RateLimitConfig

	// Metrics may be nil. MetricsHandler serves /metrics when set.
	Metrics        *middleware.Metrics
	MetricsHandler http.Handler

	CORS middleware.CORSConfig

	// Profiling mounts /debug/pprof outside every other middleware.
	Profiling bool
}

// scopedKey namespaces a rate limit key so separate limits on the same
// client never share a counter.
func scopedKey(scope string, kf middleware.KeyFunc) middleware.KeyFunc {
	return func(r *http.Request) string {
		return scope + ":" + kf(r)
	}
}

// NewRouter builds the API handler.
//
// Middleware order, outermost first: RequestID, Logging, then for every
// route except /feed/live: Tracing, HTTPMetrics, CORS and a per-IP global
// rate limit. The live feed hijacks its connection and is kept out of the
// span and latency instrumentation.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "reelrank-api"
	}
	if cfg.RankingLimit.Validate() != nil {
		cfg.RankingLimit = middleware.RateLimitConfig{RequestsPerWindow: 60, WindowDuration: time.Minute}
	}

	authH := NewAuthHandlers(cfg.Users, cfg.Verifier, cfg.Tokens)
	userH := NewUserHandlers(cfg.Users, cfg.Avatars)
	rankH := NewRankingHandlers(cfg.Engine, cfg.Users)
	movieH := NewMovieHandlers(cfg.Catalog)
	socialH := NewSocialHandlers(cfg.Follows, cfg.Users)
	feedH := NewFeedHandlers(cfg.Feed, cfg.Broadcaster, cfg.CORS.AllowedOrigins)
	uploadH := NewUploadHandlers(cfg.Avatars)
	healthH := NewHealthHandlers(cfg.Probes)

	requireAuth := middleware.RequireAuth(cfg.Tokens)
	limit := func(scope string, lc middleware.RateLimitConfig, kf middleware.KeyFunc) func(http.Handler) http.Handler {
		return middleware.RateLimiter(cfg.RateLimitStore, lc, scopedKey(scope, kf), cfg.Metrics)
	}
	authLimit := limit("auth", middleware.DefaultAuthLimit(), middleware.IPKeyFunc())
	searchLimit := limit("search", middleware.DefaultSearchLimit(), middleware.UserKeyFunc())
	rankLimit := limit("ranking", cfg.RankingLimit, middleware.UserKeyFunc())
	idem := middleware.Idempotency(cfg.Idempotency, cfg.Metrics)

	authed := func(h http.HandlerFunc) http.Handler { return requireAuth(h) }
	search := func(h http.HandlerFunc) http.Handler { return requireAuth(searchLimit(h)) }
	rankWrite := func(h http.HandlerFunc) http.Handler { return requireAuth(rankLimit(idem(h))) }

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthH.Health)
	mux.HandleFunc("GET /ready", healthH.Ready)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	mux.Handle("POST /auth/google", authLimit(http.HandlerFunc(authH.GoogleSignIn)))
	mux.Handle("POST /auth/refresh", authLimit(http.HandlerFunc(authH.Refresh)))

	mux.Handle("GET /me", authed(userH.GetMe))
	mux.Handle("PATCH /me", authed(userH.UpdateMe))
	mux.Handle("GET /users/{id}", authed(userH.GetUser))
	mux.Handle("GET /users/{id}/rankings", authed(rankH.ListUser))

	mux.Handle("POST /rankings/begin", rankWrite(rankH.Begin))
	mux.Handle("POST /rankings/compare", rankWrite(rankH.Compare))
	mux.Handle("GET /rankings/compare", authed(rankH.Current))
	mux.Handle("DELETE /rankings/compare", authed(rankH.Cancel))
	mux.Handle("GET /rankings", authed(rankH.ListMine))
	mux.Handle("DELETE /rankings/{itemId}", rankWrite(rankH.Remove))

	mux.Handle("GET /movies/search", search(movieH.Search))
	mux.Handle("GET /movies/{id}", search(movieH.Details))

	mux.Handle("POST /follows/{userId}", authed(socialH.Follow))
	mux.Handle("DELETE /follows/{userId}", authed(socialH.Unfollow))
	mux.Handle("GET /follows", authed(socialH.Following))
	mux.Handle("GET /followers", authed(socialH.Followers))

	mux.Handle("GET /feed", authed(feedH.List))
	mux.Handle("POST /uploads/avatar", authed(uploadH.SignAvatar))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})

	var instrumented http.Handler = mux
	instrumented = limit("global", middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())(instrumented)
	instrumented = middleware.CORS(cfg.CORS)(instrumented)
	if cfg.Metrics != nil {
		instrumented = middleware.HTTPMetrics(cfg.Metrics)(instrumented)
	}
	instrumented = middleware.Tracing(cfg.ServiceName)(instrumented)

	root := http.NewServeMux()
	root.Handle("GET /feed/live", authed(feedH.Live))
	if cfg.Profiling {
		middleware.RegisterProfiling(root)
		logger.Warn("profiling endpoints enabled", "path", middleware.ProfilingPrefix)
	}
	root.Handle("/", instrumented)

	return middleware.RequestID(middleware.Logging(logger)(root))
}
