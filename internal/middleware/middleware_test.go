package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/humanreel/backend/internal/logging"
)

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "req-123" {
		t.Fatalf("expected request id on context, got %q", seen)
	}
	if rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("expected request id echoed, got %q", rec.Header().Get(RequestIDHeader))
	}
	if !strings.Contains(buf.String(), `"status":418`) {
		t.Fatalf("expected completion log with status, got %s", buf.String())
	}
}

func TestRequestLoggerGeneratesRequestID(t *testing.T) {
	handler := RequestLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	handler := RequestLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"message"`) {
		t.Fatalf("expected JSON error body, got %q", rec.Body.String())
	}
}

func TestMemoryRateLimiterRefillsOverTime(t *testing.T) {
	limiter := NewMemoryRateLimiter(1, 2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("upload:192.0.2.1") || !limiter.Allow("upload:192.0.2.1") {
		t.Fatal("expected burst to be allowed")
	}
	if limiter.Allow("upload:192.0.2.1") {
		t.Fatal("expected third request to be limited")
	}
	if !limiter.Allow("verify:192.0.2.1") {
		t.Fatal("scopes must be limited independently")
	}

	now = now.Add(time.Minute)
	if !limiter.Allow("upload:192.0.2.1") {
		t.Fatal("expected a token after the window")
	}
}

func TestMemoryRateLimiterSweepsRefilledBuckets(t *testing.T) {
	limiter := NewMemoryRateLimiter(1, 1, 2*time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(50 * time.Second)
	limiter.Allow("b")
	if got := limiter.tracked(); got != 2 {
		t.Fatalf("expected 2 buckets before the sweep, got %d", got)
	}

	// a has refilled by now; b is still short of a full token.
	now = now.Add(80 * time.Second)
	limiter.Allow("c")
	if got := limiter.tracked(); got != 2 {
		t.Fatalf("expected a to be forgotten, got %d buckets", got)
	}
	if limiter.Allow("b") {
		t.Fatal("a partially refilled bucket must survive the sweep")
	}
}

type memoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (c *memoryCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func TestRedisRateLimiterFixedWindow(t *testing.T) {
	counter := &memoryCounter{counts: map[string]int64{}}
	limiter := NewRedisRateLimiterWithCounter(counter, 2, 1, time.Minute, nil)
	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !limiter.Allow("upload:1.2.3.4") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if limiter.Allow("upload:1.2.3.4") {
		t.Fatal("fourth request should be limited")
	}

	now = now.Add(time.Minute)
	if !limiter.Allow("upload:1.2.3.4") {
		t.Fatal("new window should reset the count")
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	limiter := NewRedisRateLimiterWithCounter(&memoryCounter{err: errors.New("dial tcp: refused")}, 1, 0, time.Minute, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if !limiter.Allow("k") {
		t.Fatal("expected requests to pass while redis is down")
	}
}
