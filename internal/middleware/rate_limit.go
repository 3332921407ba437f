package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldgate/backend/internal/metrics"
	"github.com/fieldgate/backend/internal/security"
)

// RemoteRateLimiter throttles requests per remote address before they reach
// the client-context handlers. Operation-level limits (login, admin, data,
// otp) are applied by the auth package on top of this.
type RemoteRateLimiter struct {
	limiter *security.RateLimiter
	limit   int
	now     func() time.Time
}

// NewRemoteRateLimiter wraps limiter, which must have been created with limit
func NewRemoteRateLimiter(limiter *security.RateLimiter, limit int) *RemoteRateLimiter {
	return &RemoteRateLimiter{
		limiter: limiter,
		limit:   limit,
		now:     time.Now,
	}
}

// Handler rate limits requests by remote address
func (rl *RemoteRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "http_" + remoteHost(r.RemoteAddr)

		if !rl.limiter.Allow(key) {
			metrics.RateLimited.WithLabelValues("http").Inc()
			rl.writeRateLimitError(w, rl.limiter.Reset(key))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.limiter.Remaining(key)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.limiter.Reset(key).Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

// remoteHost strips the port from addr. chi's RealIP middleware may already
// have replaced it with a bare address.
func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// writeRateLimitError writes a 429 Too Many Requests response
func (rl *RemoteRateLimiter) writeRateLimitError(w http.ResponseWriter, resetTime time.Time) {
	retryAfter := int64(resetTime.Sub(rl.now()).Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded. Please try again later.")
}
