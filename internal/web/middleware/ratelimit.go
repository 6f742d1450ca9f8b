package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewRateLimiter allows rps requests per second per client with the given
// burst. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = max(int(rps), 1)
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether ip may make a request now.
func (l *RateLimiter) Allow(ip string) bool {
	if l.limit <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
		l.evictIdle(now)
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// evictIdle drops clients not seen for a while; the caller holds mu.
func (l *RateLimiter) evictIdle(now time.Time) {
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.clients, ip)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
