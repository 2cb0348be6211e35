package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitedRequest(t *testing.T, handler http.Handler, addr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", http.NoBody)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_AllowsBurst(t *testing.T) {
	rl := NewRateLimiter(1, 5)
	handler := rl.Handler(okHandler())

	for i := range 5 {
		rec := limitedRequest(t, handler, "192.0.2.10:4821")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: code = %d, want 200", i+1, rec.Code)
		}
	}
}

func TestRateLimiter_RejectsWhenBucketEmpty(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	handler := rl.Handler(okHandler())

	for range 3 {
		limitedRequest(t, handler, "192.0.2.10:4821")
	}
	rec := limitedRequest(t, handler, "192.0.2.10:4821")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 response is missing Retry-After")
	}
}

func TestRateLimiter_BucketsAreKeyedByIP(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	handler := rl.Handler(okHandler())

	limitedRequest(t, handler, "10.0.0.1:1000")
	limitedRequest(t, handler, "10.0.0.1:1000")
	if rec := limitedRequest(t, handler, "10.0.0.1:1000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted IP: code = %d, want 429", rec.Code)
	}

	// Source port must not matter, only the host part.
	if rec := limitedRequest(t, handler, "10.0.0.1:2000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same IP different port: code = %d, want 429", rec.Code)
	}

	if rec := limitedRequest(t, handler, "10.0.0.2:1000"); rec.Code != http.StatusOK {
		t.Fatalf("fresh IP: code = %d, want 200", rec.Code)
	}
}

func TestRateLimiter_RemainingHeaderOnSuccess(t *testing.T) {
	rl := NewRateLimiter(1, 4)
	handler := rl.Handler(okHandler())

	rec := limitedRequest(t, handler, "192.0.2.20:4821")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") == "" {
		t.Fatal("success response is missing X-RateLimit-Remaining")
	}
}

func TestRateLimiter_EvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	handler := rl.Handler(okHandler())

	limitedRequest(t, handler, "10.0.0.1:1000")
	limitedRequest(t, handler, "10.0.0.2:1000")
	if got := rl.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	rl.mu.Lock()
	rl.visitors["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.evictIdle(10 * time.Minute)
	if got := rl.Len(); got != 1 {
		t.Fatalf("Len() after eviction = %d, want 1", got)
	}
}
