package middleware

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit applies one global token-bucket limiter to the authenticated
// route group. A single operator deployment has no per-tenant/per-IP
// dimension to key on, unlike the teacher's multi-tenant RateLimit.
func RateLimit(requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, `{"title":"Too Many Requests","status":429}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
