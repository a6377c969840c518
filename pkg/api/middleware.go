package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/cuemby/eventsync/pkg/log"
	"golang.org/x/time/rate"
)

// maxLimiters bounds the per-client limiter map
const maxLimiters = 10000

// ReadOnly rejects every request that is not a GET or HEAD. The status
// endpoints never change client state.
func ReadOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isReadOnlyMethod(r.Method) {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isReadOnlyMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// RateLimiter limits requests per client IP
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter allows rps requests per second per client with the given burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a request from r's client may proceed
func (rl *RateLimiter) Allow(r *http.Request) bool {
	clientIP := getClientIP(r)

	rl.mu.Lock()
	limiter, ok := rl.limiters[clientIP]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[clientIP] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}

// Middleware wraps next with the rate limit
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(r) {
			logger.Warn().Str("client", getClientIP(r)).Str("path", r.URL.Path).Msg("rate limit exceeded")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
