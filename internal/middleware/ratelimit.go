package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// clientBucket tracks the token balance for one client address.
type clientBucket struct {
	tokens   float64
	refilled time.Time
	lastSeen time.Time
}

// RateLimiter applies a per-client token bucket to incoming requests.
// Sprint-run submissions are cheap to request and expensive to execute, so
// the API front door throttles clients before the queue layer ever sees them.
type RateLimiter struct {
	rate  float64 // tokens per second
	burst float64

	mu      sync.Mutex
	clients map[string]*clientBucket

	// maxClients caps the tracked-address map; above it, unknown clients
	// are rejected rather than allowed to grow memory without bound.
	maxClients int

	now func() time.Time // swappable for testing
}

// NewRateLimiter creates a limiter allowing the sustained rate (requests per
// second) with the given burst headroom.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      float64(burst),
		clients:    make(map[string]*clientBucket),
		maxClients: 100_000,
		now:        time.Now,
	}
}

// Handler returns middleware enforcing the limit per client IP.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, retryAfter, ok := rl.take(clientAddr(r))

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.now().Add(time.Second).Unix(), 10))

		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// take consumes one token for addr. When the bucket is empty it reports how
// long, in seconds, the client should wait before retrying.
func (rl *RateLimiter) take(addr string) (remaining int, retryAfter float64, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := rl.clients[addr]
	if b == nil {
		if len(rl.clients) >= rl.maxClients {
			return 0, 1 / rl.rate, false
		}
		b = &clientBucket{tokens: rl.burst, refilled: now}
		rl.clients[addr] = b
	}

	elapsed := now.Sub(b.refilled).Seconds()
	b.tokens = math.Min(rl.burst, b.tokens+elapsed*rl.rate)
	b.refilled = now
	b.lastSeen = now

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup evicts buckets idle longer than maxIdle, checking every
// interval. The returned function stops the background goroutine.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.evictIdle(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) evictIdle(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for addr, b := range rl.clients {
		if b.lastSeen.Before(cutoff) {
			delete(rl.clients, addr)
		}
	}
}

// Len returns the number of tracked client buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// clientAddr keys buckets by the connection's remote address. Proxy headers
// are not consulted: they are client-controlled and would let a caller mint
// fresh buckets at will.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
