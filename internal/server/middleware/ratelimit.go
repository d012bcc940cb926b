package middleware

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware applies a server-wide token bucket to mutating
// requests. rps=0 disables limiting.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
