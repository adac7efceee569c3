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

func doRequest(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	h := rl.Handler(okHandler())

	for i := 0; i < 3; i++ {
		rec := doRequest(h, "10.0.0.1:1234")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
}

func TestRateLimiterRejectsPastBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Handler(okHandler())

	doRequest(h, "10.0.0.1:1234")
	doRequest(h, "10.0.0.1:1234")
	rec := doRequest(h, "10.0.0.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := rl.Handler(okHandler())

	if rec := doRequest(h, "10.0.0.1:1"); rec.Code != http.StatusOK {
		t.Fatalf("first client: status = %d", rec.Code)
	}
	if rec := doRequest(h, "10.0.0.1:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first client second hit: status = %d, want 429", rec.Code)
	}
	// A different address has its own bucket.
	if rec := doRequest(h, "10.0.0.2:1"); rec.Code != http.StatusOK {
		t.Fatalf("second client: status = %d, want 200", rec.Code)
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	current := time.Now()
	rl.now = func() time.Time { return current }
	h := rl.Handler(okHandler())

	doRequest(h, "10.0.0.1:1")
	if rec := doRequest(h, "10.0.0.1:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted bucket: status = %d, want 429", rec.Code)
	}

	current = current.Add(200 * time.Millisecond) // 2 tokens at 10/s, capped at burst 1
	if rec := doRequest(h, "10.0.0.1:1"); rec.Code != http.StatusOK {
		t.Fatalf("after refill: status = %d, want 200", rec.Code)
	}
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	current := time.Now()
	rl.now = func() time.Time { return current }
	h := rl.Handler(okHandler())

	doRequest(h, "10.0.0.1:1")
	doRequest(h, "10.0.0.2:1")
	if rl.Len() != 2 {
		t.Fatalf("tracked clients = %d, want 2", rl.Len())
	}

	current = current.Add(time.Hour)
	rl.evictIdle(10 * time.Minute)
	if rl.Len() != 0 {
		t.Fatalf("tracked clients after eviction = %d, want 0", rl.Len())
	}
}

func TestRateLimiterCapsTrackedClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.maxClients = 2
	h := rl.Handler(okHandler())

	doRequest(h, "10.0.0.1:1")
	doRequest(h, "10.0.0.2:1")
	// Third distinct client pushes past the cap and is rejected.
	if rec := doRequest(h, "10.0.0.3:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over cap: status = %d, want 429", rec.Code)
	}
}
