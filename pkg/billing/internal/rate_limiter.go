package internal

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter provides simple in-memory per-IP rate limiting for webhook
// endpoints.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limit    int
	interval time.Duration
	seen     int
}

type window struct {
	count   int
	resetAt time.Time
}

// cleanup thresholds: sweep expired windows every N requests or when the
// map outgrows the expected client population.
const (
	sweepEvery  = 100
	sweepAtSize = 200
)

// NewRateLimiter creates a new rate limiter allowing limit requests per
// interval per client IP.
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		windows:  make(map[string]*window),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	rl.seen++
	if rl.seen%sweepEvery == 0 || len(rl.windows) > sweepAtSize {
		rl.sweep(now)
		if rl.seen >= sweepEvery*10 {
			rl.seen = 0
		}
	}

	w, ok := rl.windows[ip]
	if !ok || now.After(w.resetAt) {
		rl.windows[ip] = &window{count: 1, resetAt: now.Add(rl.interval)}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// sweep removes expired windows. Caller must hold the mutex.
func (rl *RateLimiter) sweep(now time.Time) {
	for ip, w := range rl.windows {
		if now.After(w.resetAt) {
			delete(rl.windows, ip)
		}
	}
}

// Middleware wraps an HTTP handler with rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(ClientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client IP address from the request. Checks
// X-Forwarded-For first (set by proxies), then falls back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	return r.RemoteAddr
}
