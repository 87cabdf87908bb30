// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/ManuGH/voxsync/internal/auth"
)

// CSRFProtection rejects state-changing browser requests whose Origin (or
// Referer) is neither the daemon itself nor an allowed origin. Requests that
// carry an API token are not cookie-authenticated and pass through.
func CSRFProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	var originsMap map[string]bool
	if len(allowedOrigins) > 0 {
		originsMap = make(map[string]bool, len(allowedOrigins))
		for _, origin := range allowedOrigins {
			originsMap[strings.TrimSuffix(origin, "/")] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if auth.ExtractToken(r) != "" {
				next.ServeHTTP(w, r)
				return
			}

			requestOrigin := getRequestOrigin(r)
			if requestOrigin == "" {
				writeForbidden(w, "missing origin information")
				return
			}
			if !isOriginAllowed(requestOrigin, originsMap, r) {
				writeForbidden(w, "cross-origin request not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeForbidden(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"forbidden","detail":"` + detail + `"}`))
}

// getRequestOrigin extracts the origin from the request.
// It checks Origin header first (preferred), then falls back to Referer.
func getRequestOrigin(r *http.Request) string {
	// 1. Check Origin header (standard for CORS and modern browsers)
	origin := r.Header.Get("Origin")
	if origin != "" {
		return strings.TrimSuffix(origin, "/")
	}

	// 2. Fallback to Referer header (for older browsers or non-CORS requests)
	referer := r.Header.Get("Referer")
	if referer == "" {
		return ""
	}

	// Extract origin from referer URL
	refererURL, err := url.Parse(referer)
	if err != nil {
		return ""
	}

	// Reconstruct origin from referer (scheme + host)
	refererOrigin := refererURL.Scheme + "://" + refererURL.Host
	return strings.TrimSuffix(refererOrigin, "/")
}

// isOriginAllowed checks if the request origin is allowed.
// It implements same-origin policy with configurable allowed origins.
func isOriginAllowed(requestOrigin string, allowedOrigins map[string]bool, r *http.Request) bool {
	// If no allowed origins configured, use same-origin policy
	if allowedOrigins == nil {
		return isSameOrigin(requestOrigin, r)
	}

	// Check if origin is in allowed list
	if allowedOrigins[requestOrigin] {
		return true
	}

	// Always allow same-origin requests even if not in allowed list
	return isSameOrigin(requestOrigin, r)
}

// isSameOrigin checks if the request origin matches the request's target origin.
func isSameOrigin(requestOrigin string, r *http.Request) bool {
	// Construct expected origin from request
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	// Check X-Forwarded-Proto for proxy scenarios
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// Use Host header (includes port if non-standard)
	host := r.Host
	if host == "" {
		return false
	}

	expectedOrigin := scheme + "://" + host
	return requestOrigin == expectedOrigin
}
