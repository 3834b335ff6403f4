// Package mw contains HTTP middleware for the pipeline's Submission API and
// Realtime Gateway.
package mw

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CachePolicy defines caching behavior for a route pattern.
type CachePolicy struct {
	// Pattern is the route pattern to match (prefix match by default).
	Pattern string
	// CacheControl is the Cache-Control header value to set.
	CacheControl string
}

// CacheConfig holds the cache middleware configuration.
type CacheConfig struct {
	// Policies are the cache policies to apply, matched in order.
	Policies []CachePolicy
	// DefaultPolicy is applied when no policy matches (empty = no header set).
	DefaultPolicy string
}

const (
	cacheMaxAgeShort = 30 * time.Second
)

// DefaultCacheConfig returns sensible cache defaults for the API. K8s probes
// are never cached; job state is dynamic and never cached; the realtime
// stream sets its own headers but gets a belt-and-suspenders entry here too.
func DefaultCacheConfig() CacheConfig {
	shortSecs := int(cacheMaxAgeShort.Seconds())

	return CacheConfig{
		DefaultPolicy: "private, no-cache",
		Policies: []CachePolicy{
			{Pattern: "/v1/health", CacheControl: fmt.Sprintf("public, max-age=%d", shortSecs)},
			{Pattern: "/healthz", CacheControl: "no-store"},
			{Pattern: "/readyz", CacheControl: "no-store"},
			{Pattern: "/v1/jobs", CacheControl: "private, no-cache"},
			{Pattern: "/v1/realtime", CacheControl: "no-cache"},
		},
	}
}

// Cache returns middleware that sets Cache-Control headers based on route patterns.
// For non-GET/HEAD requests, it sets "no-store" to prevent caching of mutations.
// For GET/HEAD requests, it matches against configured policies in order.
func Cache(cfg CacheConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Non-GET/HEAD requests should never be cached
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				w.Header().Set("Cache-Control", "no-store")
				next.ServeHTTP(w, r)
				return
			}

			// Find matching policy (first match wins)
			path := r.URL.Path
			for _, policy := range cfg.Policies {
				if matchesPattern(path, policy.Pattern) {
					w.Header().Set("Cache-Control", policy.CacheControl)
					next.ServeHTTP(w, r)
					return
				}
			}

			// Apply default policy if no match and default is set
			if cfg.DefaultPolicy != "" {
				w.Header().Set("Cache-Control", cfg.DefaultPolicy)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchesPattern checks if the path matches the pattern.
// Supports prefix matching and substring matching for patterns like "/stream".
func matchesPattern(path, pattern string) bool {
	// Exact match or prefix match
	if path == pattern || strings.HasPrefix(path, pattern) {
		return true
	}
	// Substring match for patterns that might appear mid-path (e.g., "/stream")
	if strings.Contains(path, pattern) {
		return true
	}
	return false
}
