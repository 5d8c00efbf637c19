package movie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/reelrank/internal/tracing"
)

// Client defaults.
const (
	DefaultBaseURL          = "https://api.themoviedb.org/3"
	DefaultTimeout          = 5 * time.Second
	DefaultCacheTTL         = 10 * time.Minute
	DefaultCacheSize        = 1000
	DefaultLanguage         = "en-US"
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 30 * time.Second

	maxBodyBytes = 2 << 20
)

// Endpoint labels.
const (
	endpointSearch  = "search"
	endpointDetails = "details"
)

// Config configures a TMDBClient.
type Config struct {
	BaseURL string

	// APIKey is either a v3 API key, sent as the api_key query parameter, or
	// a v4 read access token (a JWT), sent as a bearer token.
	APIKey   string
	Language string
	Timeout  time.Duration

	CacheSize int
	CacheTTL  time.Duration

	// FailureThreshold consecutive failures open the breaker for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration

	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *Metrics
}

// TMDBClient implements Catalog against the TMDB v3 REST API.
type TMDBClient struct {
	baseURL  string
	apiKey   string
	bearer   bool
	language string
	http     *http.Client
	cache    *responseCache
	breaker  *gobreaker.CircuitBreaker[[]byte]
	logger   *slog.Logger
	metrics  *Metrics
}

// NewTMDBClient creates a TMDBClient, filling zero Config fields with defaults.
func NewTMDBClient(cfg Config) (*TMDBClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("tmdb api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid tmdb base url: %w", err)
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	c := &TMDBClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		bearer:   strings.HasPrefix(cfg.APIKey, "eyJ"),
		language: cfg.Language,
		http:     httpClient,
		cache:    newResponseCache(cfg.CacheSize, cfg.CacheTTL),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}

	threshold := cfg.FailureThreshold
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("tmdb circuit breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			c.metrics.observeTransition(from, to)
		},
		// A missing movie or a caller that gave up says nothing about TMDB health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})
	c.metrics.setState(gobreaker.StateClosed)

	return c, nil
}

// Search implements Catalog. page 0 means the first page.
func (c *TMDBClient) Search(ctx context.Context, query string, page int) (res *SearchPage, err error) {
	query = strings.TrimSpace(query)
	if query == "" || utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, ErrInvalidQuery
	}
	if page == 0 {
		page = 1
	}
	if page < 1 || page > MaxPage {
		return nil, ErrInvalidQuery
	}

	ctx, endSpan := tracing.StartSpan(ctx, "tmdb.search",
		attribute.Int("tmdb.page", page))
	defer func() { endSpan(err) }()

	q := url.Values{}
	q.Set("query", query)
	q.Set("page", strconv.Itoa(page))
	q.Set("include_adult", "false")

	body, err := c.fetch(ctx, endpointSearch, "/search/movie", q)
	if err != nil {
		return nil, err
	}
	res = &SearchPage{}
	if err := json.Unmarshal(body, res); err != nil {
		return nil, fmt.Errorf("failed to decode tmdb search: %w", err)
	}
	if res.Results == nil {
		res.Results = []Summary{}
	}
	return res, nil
}

// Details implements Catalog.
func (c *TMDBClient) Details(ctx context.Context, id int64) (d *Details, err error) {
	if id <= 0 {
		return nil, ErrNotFound
	}

	ctx, endSpan := tracing.StartSpan(ctx, "tmdb.details",
		attribute.Int64("tmdb.movie_id", id))
	defer func() {
		if errors.Is(err, ErrNotFound) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	body, err := c.fetch(ctx, endpointDetails, "/movie/"+strconv.FormatInt(id, 10), url.Values{})
	if err != nil {
		return nil, err
	}
	d = &Details{}
	if err := json.Unmarshal(body, d); err != nil {
		return nil, fmt.Errorf("failed to decode tmdb details: %w", err)
	}
	if d.Genres == nil {
		d.Genres = []Genre{}
	}
	return d, nil
}

// fetch returns the body of a successful GET, from cache when possible.
func (c *TMDBClient) fetch(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	q.Set("language", c.language)
	key := path + "?" + q.Encode()

	if body, ok := c.cache.get(key); ok {
		c.metrics.observeCache(true)
		return body, nil
	}
	c.metrics.observeCache(false)

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, path, q)
	})
	elapsed := time.Since(start).Seconds()

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.observeRequest(endpoint, OutcomeRejected, elapsed)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	case err != nil && !errors.Is(err, ErrNotFound):
		c.metrics.observeRequest(endpoint, OutcomeFailure, elapsed)
		c.metrics.setConsecutiveFailures(c.breaker.Counts().ConsecutiveFailures)
		return nil, err
	case err != nil:
		c.metrics.observeRequest(endpoint, OutcomeSuccess, elapsed)
		return nil, err
	}

	c.metrics.observeRequest(endpoint, OutcomeSuccess, elapsed)
	c.metrics.setConsecutiveFailures(0)
	c.cache.put(key, body)
	return body, nil
}

type tmdbError struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

func (c *TMDBClient) do(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if !c.bearer {
		q = cloneValues(q)
		q.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tmdb request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.bearer {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	}

	var te tmdbError
	_ = json.Unmarshal(body, &te)
	c.logger.WarnContext(ctx, "tmdb request failed",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Int("tmdb_status_code", te.StatusCode),
		slog.String("tmdb_status_message", te.StatusMessage))
	return nil, fmt.Errorf("%w: tmdb returned status %d", ErrUnavailable, resp.StatusCode)
}

func cloneValues(q url.Values) url.Values {
	out := make(url.Values, len(q)+1)
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// HealthCheck reports ErrUnavailable while the circuit breaker is open.
// It never calls TMDB.
func (c *TMDBClient) HealthCheck(ctx context.Context) error {
	if c.breaker.State() == gobreaker.StateOpen {
		return ErrUnavailable
	}
	return nil
}
