// Package middleware provides HTTP middleware for the coach API.
package middleware

import (
	"net/http"
	"strings"
)

// DefaultAllowedHeaders are the request headers browsers may send cross-origin.
var DefaultAllowedHeaders = []string{"Content-Type", "X-Coach-Session-ID"}

// CORS returns middleware that handles CORS headers. A nil allowedHeaders
// uses DefaultAllowedHeaders.
func CORS(allowedOrigins, allowedHeaders []string) func(http.Handler) http.Handler {
	if allowedHeaders == nil {
		allowedHeaders = DefaultAllowedHeaders
	}
	headers := strings.Join(allowedHeaders, ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", headers)
				// Only allow credentials for explicit origins, not wildcard matches.
				// Setting Allow-Credentials with a wildcard-echoed origin enables CSRF.
				for _, o := range allowedOrigins {
					if o != "*" && o == origin {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
						break
					}
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
