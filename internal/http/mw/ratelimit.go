package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// RequestsPerMinute is the rate limit applied per authenticated tenant.
	RequestsPerMinute int
	// IPRequestsPerMinute is a fallback rate limit by IP for unauthenticated requests.
	IPRequestsPerMinute int
}

// DefaultRateLimitConfig returns sane defaults for the submission surface.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute:   120,
		IPRequestsPerMinute: 30,
	}
}

// RateLimitByUser returns a middleware that rate limits by tenant ID.
// Should be applied AFTER authentication middleware. Falls back to
// IP-based limiting if the caller is not authenticated.
func RateLimitByUser(cfg RateLimitConfig) func(http.Handler) http.Handler {
	limiter := httprate.NewRateLimiter(
		cfg.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "tenant:" + GetUserClaims(r.Context()).TenantID, nil
		}),
	)
	ipLimit := cfg.IPRequestsPerMinute
	if ipLimit <= 0 {
		ipLimit = cfg.RequestsPerMinute
	}
	ipLimiter := httprate.NewRateLimiter(ipLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))

	return func(next http.Handler) http.Handler {
		byTenant, byIP := limiter.Handler(next), ipLimiter.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims := GetUserClaims(r.Context()); claims == nil || claims.TenantID == "" {
				byIP.ServeHTTP(w, r)
				return
			}
			byTenant.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP returns a middleware that rate limits by IP address.
// Useful for public endpoints or as a global fallback.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitGlobal returns a middleware that applies a global rate limit
// to prevent overall system overload. Uses a sliding window.
func RateLimitGlobal(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "global", nil
		}),
	)
}
