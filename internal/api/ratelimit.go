// Rate limiter for API endpoints that consume LLM resources.
// One token bucket per caller, kept in memory.
package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/talgya/city-council/internal/apperr"
)

// RateLimiter hands out a token bucket per key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows burst requests at once and maxRate per window
// after that.
func NewRateLimiter(maxRate int, window time.Duration, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(maxRate) / window.Seconds()),
		burst:   burst,
		idle:    2 * window,
	}
}

// Allow reports whether key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.get(key).Allow()
}

// RetryAfter returns how many seconds until key gets its next token.
func (rl *RateLimiter) RetryAfter(key string) int {
	r := rl.get(key).Reserve()
	defer r.Cancel()
	if !r.OK() {
		return 0
	}
	return int(math.Ceil(r.Delay().Seconds()))
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// Cleanup drops buckets that have been idle for two windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idle {
			delete(rl.buckets, key)
		}
	}
}

// rateLimited wraps a caller-scoped handler. Returns 429 if exceeded.
func (s *Server) rateLimited(rl *RateLimiter, next callerHandler) callerHandler {
	return func(w http.ResponseWriter, r *http.Request, callerID string) {
		if !rl.Allow(callerID) {
			w.Header().Set("Retry-After", strconv.Itoa(max(rl.RetryAfter(callerID), 1)))
			writeError(w, apperr.New(apperr.CodeRateLimited, "rate limit exceeded"))
			return
		}
		next(w, r, callerID)
	}
}
