// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/onnwee/reelrank/internal/api"
	"github.com/onnwee/reelrank/internal/auth"
	"github.com/onnwee/reelrank/internal/config"
	"github.com/onnwee/reelrank/internal/db"
	"github.com/onnwee/reelrank/internal/feed"
	"github.com/onnwee/reelrank/internal/health"
	"github.com/onnwee/reelrank/internal/idempotency"
	"github.com/onnwee/reelrank/internal/jobs"
	"github.com/onnwee/reelrank/internal/middleware"
	"github.com/onnwee/reelrank/internal/movie"
	"github.com/onnwee/reelrank/internal/ranking"
	"github.com/onnwee/reelrank/internal/social"
	"github.com/onnwee/reelrank/internal/tracing"
	"github.com/onnwee/reelrank/internal/upload"
	"github.com/onnwee/reelrank/internal/user"
)

const serviceName = "reelrank-api"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// googleIssuer is replaced in tests.
var googleIssuer = auth.GoogleIssuer

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "optional YAML config file; environment variables take precedence")
	flag.Parse()

	if *help {
		fmt.Println("ReelRank API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if cfg == nil {
		cfg = &config.Config{Env: config.DefaultEnv}
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// run wires every dependency, serves until ctx is cancelled, then shuts down.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tp, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// Background jobs stop with bgCancel, after the server has drained.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	var background []jobs.Job

	var probes []health.Probe

	var database *sql.DB
	if cfg.DatabaseURL != "" {
		database, err = db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			return err
		}
		defer database.Close()
		probes = append(probes, health.Probe{Name: "database", Checker: health.Database(database), Critical: true})
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores; data is lost on restart")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		probes = append(probes, health.Probe{Name: "redis", Checker: health.Redis(redisClient), Critical: true})
		logger.Info("connected to redis")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewMetrics()
	rankingMetrics := ranking.NewMetrics()
	feedMetrics := feed.NewMetrics()
	movieMetrics := movie.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, r := range []interface{ Register(prometheus.Registerer) error }{httpMetrics, rankingMetrics, feedMetrics, movieMetrics, jobMetrics} {
		if err := r.Register(reg); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	// Repositories
	var (
		users       user.Repository
		follows     social.Repository
		activities  feed.Repository
		rankedStore ranking.Store
	)
	if database != nil {
		users = user.NewPostgresRepository(database, logger)
		follows = social.NewPostgresRepository(database, logger)
		activities = feed.NewPostgresRepository(database, logger)
		rankedStore = ranking.NewPostgresStore(database, logger)
	} else {
		users = user.NewInMemoryRepository()
		follows = social.NewInMemoryRepository()
		activities = feed.NewInMemoryRepository()
		rankedStore = ranking.NewInMemoryStore()
	}

	var sessions ranking.SessionStore
	var sharedLock ranking.OwnerLocker
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		sessions = ranking.NewRedisSessionStore(redisClient, cfg.RankingSessionTTL)
		sharedLock = ranking.NewRedisOwnerLocker(redisClient, ranking.DefaultOwnerLockTTL, ranking.DefaultOwnerLockWait)
	default:
		mem := ranking.NewInMemorySessionStore(cfg.RankingSessionTTL)
		background = append(background, jobs.Job{
			Name:     jobs.JobTypeSessionSweep,
			Interval: time.Minute,
			Fn: func(context.Context) (int, error) {
				return mem.Sweep(), nil
			},
		})
		sessions = mem
	}
	logger.Info("ranking sessions configured", "backend", cfg.SessionBackend, "ttl", cfg.RankingSessionTTL)

	broadcaster := feed.NewBroadcaster(logger, feedMetrics)
	feedService := feed.NewService(activities, follows, broadcaster, logger, feedMetrics)
	engine := ranking.NewEngine(rankedStore, sessions, ranking.EngineConfig{
		Logger:     logger,
		Metrics:    rankingMetrics,
		OnInserted: feedService.RecordRanking,
		SharedLock: sharedLock,
	})

	catalog, err := movie.NewTMDBClient(movie.Config{
		BaseURL:  cfg.TMDBBaseURL,
		APIKey:   cfg.TMDBAPIKey,
		Timeout:  cfg.TMDBTimeout,
		CacheTTL: cfg.TMDBCacheTTL,
		Logger:   logger,
		Metrics:  movieMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create TMDB client: %w", err)
	}
	probes = append(probes, health.Probe{Name: "tmdb", Checker: catalog})

	// Auth
	var jwtOpts []auth.Option
	if cfg.JWTPreviousSecret != "" {
		jwtOpts = append(jwtOpts, auth.WithPreviousSecret(cfg.JWTPreviousSecret))
	}
	tokens := auth.NewJWTService(cfg.JWTSecret, jwtOpts...)

	discoveryClient := &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	verifier, err := auth.NewOIDCGoogleVerifier(ctx, googleIssuer, cfg.GoogleClientID, discoveryClient)
	if err != nil {
		return fmt.Errorf("failed to create Google verifier: %w", err)
	}

	// Avatar uploads are optional.
	var avatars api.AvatarStore
	if cfg.R2Configured() {
		svc, err := upload.NewService(upload.ServiceConfig{
			BucketName:      cfg.R2BucketName,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Endpoint:        cfg.R2Endpoint,
			MaxSizeMB:       cfg.R2MaxUploadSizeMB,
		})
		if err != nil {
			return fmt.Errorf("failed to create upload service: %w", err)
		}
		avatars = svc
		logger.Info("avatar uploads enabled", "bucket", cfg.R2BucketName)
	} else {
		logger.Warn("R2 not configured, avatar uploads disabled")
	}

	// Replay and rate limit state live in Redis when several instances
	// share traffic.
	var (
		idemRepo  idempotency.Repository
		rateStore middleware.RateLimitStore
	)
	if redisClient != nil {
		idemRepo = idempotency.NewRedisRepository(redisClient, idempotency.DefaultExpiry)
		rateStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(httpMetrics)
	} else {
		mem := idempotency.NewInMemoryRepository()
		limiter := middleware.NewInMemoryRateLimitStore()
		background = append(background,
			jobs.Job{
				Name:       jobs.JobTypeIdempotencyCleanup,
				Interval:   time.Hour,
				Timeout:    time.Minute,
				RunOnStart: true,
				Fn: func(ctx context.Context) (int, error) {
					n, err := mem.DeleteOlderThan(ctx, idempotency.DefaultExpiry)
					return int(n), err
				},
			},
			jobs.Job{
				Name:     jobs.JobTypeRateLimitCleanup,
				Interval: 5 * time.Minute,
				Fn: func(context.Context) (int, error) {
					return limiter.Cleanup(), nil
				},
			},
		)
		idemRepo = mem
		rateStore = limiter
	}

	runner := jobs.NewRunner(logger, jobMetrics)
	runner.Start(bgCtx, background...)
	defer func() {
		bgCancel()
		runner.Wait()
	}()

	handler := api.NewRouter(api.RouterConfig{
		Logger:         logger,
		ServiceName:    serviceName,
		Tokens:         tokens,
		Verifier:       verifier,
		Users:          users,
		Engine:         engine,
		Catalog:        catalog,
		Follows:        follows,
		Feed:           feedService,
		Broadcaster:    broadcaster,
		Avatars:        avatars,
		Probes:         probes,
		Idempotency:    idemRepo,
		RateLimitStore: rateStore,
		RankingLimit: middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimitRequests,
			WindowDuration:    cfg.RateLimitWindow,
		},
		Metrics:        httpMetrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		CORS:           middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins},
		Profiling:      cfg.ProfilingEnabled && !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	// Hijacked websocket connections are not tracked by Shutdown.
	broadcaster.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
