package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	apperrors "github.com/wallet-inspector/internal/errors"
)

// RateLimiter keeps one token bucket per client. Every inspection fans out
// into many upstream RPC calls, so clients get a small budget.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	limit rate.Limit

	// Burst size (number of requests that can be made in a burst)
	burstSize int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps int) *RateLimiter {
	if rps <= 0 {
		rps = 5
	}
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		limit:     rate.Limit(rps),
		burstSize: rps * 2,
	}
}

// getLimiter returns the rate limiter for a client
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check in case another goroutine created it
	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.limit, rl.burstSize)
	rl.limiters[key] = limiter

	return limiter
}

// clientKey identifies the caller: X-Client-ID if present, else the remote IP
func clientKey(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := rl.getLimiter(clientKey(r))

			if !limiter.Allow() {
				retryAfter := int(math.Ceil(1 / float64(limiter.Limit())))
				catErr := apperrors.NewRateLimitError(retryAfter)
				svcErr := catErr.ToServiceError()

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				respondError(w, catErr.StatusCode, svcErr.Code, svcErr.Message, svcErr.Details)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
