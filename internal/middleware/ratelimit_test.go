package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move the in-memory store through time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedStore() (*InMemoryRateLimitStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewInMemoryRateLimitStore()
	store.now = clock.Now
	return store, clock
}

func TestInMemoryRateLimitStore_Allow(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		calls int
		want  []bool
	}{
		{name: "under limit", limit: 5, calls: 3, want: []bool{true, true, true}},
		{name: "over limit", limit: 3, calls: 5, want: []bool{true, true, true, false, false}},
		{name: "limit of one", limit: 1, calls: 2, want: []bool{true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newClockedStore()
			cfg := RateLimitConfig{RequestsPerWindow: tt.limit, WindowDuration: time.Minute}

			for i := 0; i < tt.calls; i++ {
				allowed, remaining, retryAfter := store.Allow(context.Background(), "user:alice", cfg)
				if allowed != tt.want[i] {
					t.Fatalf("call %d: allowed = %v, want %v", i+1, allowed, tt.want[i])
				}
				if allowed && remaining != tt.limit-i-1 {
					t.Errorf("call %d: remaining = %d, want %d", i+1, remaining, tt.limit-i-1)
				}
				if !allowed && retryAfter < 1 {
					t.Errorf("call %d: retryAfter = %d, want >= 1", i+1, retryAfter)
				}
			}
		})
	}
}

func TestInMemoryRateLimitStore_Refill(t *testing.T) {
	store, clock := newClockedStore()
	cfg := RateLimitConfig{RequestsPerWindow: 2, WindowDuration: 10 * time.Second}
	ctx := context.Background()

	store.Allow(ctx, "k", cfg)
	store.Allow(ctx, "k", cfg)
	allowed, _, retryAfter := store.Allow(ctx, "k", cfg)
	if allowed {
		t.Fatal("third request should be refused")
	}
	if retryAfter != 5 {
		t.Errorf("retryAfter = %d, want 5 (one token per 5s)", retryAfter)
	}

	clock.Advance(5 * time.Second)
	if allowed, _, _ := store.Allow(ctx, "k", cfg); !allowed {
		t.Error("a token should have refilled after 5s")
	}
}

func TestInMemoryRateLimitStore_Isolation(t *testing.T) {
	store, _ := newClockedStore()
	ctx := context.Background()
	tight := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	loose := RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}

	store.Allow(ctx, "alice", tight)
	if allowed, _, _ := store.Allow(ctx, "bob", tight); !allowed {
		t.Error("keys must not share a bucket")
	}
	if allowed, _, _ := store.Allow(ctx, "alice", loose); !allowed {
		t.Error("different configs for the same key must not share a bucket")
	}
}

func TestInMemoryRateLimitStore_Concurrency(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Hour}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := store.Allow(context.Background(), "shared", cfg); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 50 {
		t.Errorf("granted = %d, want exactly 50", granted)
	}
}

func TestInMemoryRateLimitStore_Cleanup(t *testing.T) {
	store, clock := newClockedStore()
	ctx := context.Background()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}

	store.Allow(ctx, "idle", cfg)
	clock.Advance(30 * time.Second)
	store.Allow(ctx, "active", cfg)

	if n := store.Cleanup(); n != 0 {
		t.Errorf("Cleanup() before a full window = %d, want 0", n)
	}

	clock.Advance(30 * time.Second)
	if n := store.Cleanup(); n != 1 {
		t.Errorf("Cleanup() = %d, want 1 (only the idle bucket)", n)
	}
	if allowed, _, _ := store.Allow(ctx, "active", cfg); allowed {
		t.Error("active bucket should survive cleanup with its state")
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "remote addr", remoteAddr: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "remote addr without port", remoteAddr: "10.0.0.1", want: "10.0.0.1"},
		{name: "ipv6", remoteAddr: "[::1]:5555", want: "::1"},
		{
			name:       "first forwarded hop",
			remoteAddr: "10.0.0.1:5555",
			headers:    map[string]string{"X-Forwarded-For": " 203.0.113.9 , 10.0.0.2"},
			want:       "203.0.113.9",
		},
		{
			name:       "real ip",
			remoteAddr: "10.0.0.1:5555",
			headers:    map[string]string{"X-Real-IP": "198.51.100.4"},
			want:       "198.51.100.4",
		},
		{
			name:       "forwarded wins over real ip",
			remoteAddr: "10.0.0.1:5555",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "198.51.100.4"},
			want:       "203.0.113.9",
		},
	}

	kf := IPKeyFunc()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := kf(req); got != tt.want {
				t.Errorf("IPKeyFunc() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserKeyFunc(t *testing.T) {
	kf := UserKeyFunc()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := kf(req); got != "ip:10.0.0.1" {
		t.Errorf("anonymous key = %q, want ip:10.0.0.1", got)
	}

	req = req.WithContext(SetUserID(req.Context(), "user-42"))
	if got := kf(req); got != "user:user-42" {
		t.Errorf("authenticated key = %q, want user:user-42", got)
	}
}

func TestRateLimiter(t *testing.T) {
	store, _ := newClockedStore()
	cfg := RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}
	metrics := NewMetrics()

	handler := RateLimiter(store, cfg, IPKeyFunc(), metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rankings/compare", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i, wantRemaining := range []string{"1", "0"} {
		rec := send("192.0.2.1:1000")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d: remaining = %s, want %s", i+1, got, wantRemaining)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("request %d: limit header = %s, want 2", i+1, got)
		}
	}

	rec := send("192.0.2.1:1000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 60 {
		t.Errorf("Retry-After = %q, want 1..60", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset header missing")
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "rate_limited" {
		t.Errorf("error code = %q, want rate_limited", body.Error.Code)
	}

	if rec := send("192.0.2.2:1000"); rec.Code != http.StatusOK {
		t.Errorf("another client: status = %d, want 200", rec.Code)
	}

	if got := getCounterValue(t, metrics.rateLimitRequests.WithLabelValues("/rankings/compare", "ip")); got != 4 {
		t.Errorf("requests counter = %v, want 4", got)
	}
	if got := getCounterValue(t, metrics.rateLimitBlocked.WithLabelValues("/rankings/compare", "ip")); got != 1 {
		t.Errorf("blocked counter = %v, want 1", got)
	}
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RateLimitConfig
		wantErr bool
	}{
		{name: "valid", config: RateLimitConfig{RequestsPerWindow: 60, WindowDuration: time.Minute}},
		{name: "zero requests", config: RateLimitConfig{WindowDuration: time.Minute}, wantErr: true},
		{name: "negative requests", config: RateLimitConfig{RequestsPerWindow: -1, WindowDuration: time.Minute}, wantErr: true},
		{name: "zero window", config: RateLimitConfig{RequestsPerWindow: 60}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultLimits(t *testing.T) {
	tests := []struct {
		name string
		got  RateLimitConfig
		want int
	}{
		{name: "global", got: DefaultGlobalLimit(), want: 100},
		{name: "auth", got: DefaultAuthLimit(), want: 10},
		{name: "search", got: DefaultSearchLimit(), want: 30},
	}
	for _, tt := range tests {
		if tt.got.RequestsPerWindow != tt.want || tt.got.WindowDuration != time.Minute {
			t.Errorf("%s limit = %+v, want %d per minute", tt.name, tt.got, tt.want)
		}
	}
}

var (
	_ RateLimitStore = (*InMemoryRateLimitStore)(nil)
	_ RateLimitStore = (*RedisRateLimitStore)(nil)
)
