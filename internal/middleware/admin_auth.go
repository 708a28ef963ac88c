package middleware

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyAuth creates middleware requiring the operator API key. With no key
// configured the protected routes are closed.
func APIKeyAuth(apiKey, headerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				writeError(w, http.StatusForbidden, "Admin API is disabled.")
				return
			}

			providedKey := r.Header.Get(headerName)
			if providedKey == "" {
				writeError(w, http.StatusUnauthorized, "API key is required.")
				return
			}

			// Constant-time comparison to prevent timing attacks
			if !constantTimeEquals(apiKey, providedKey) {
				writeError(w, http.StatusUnauthorized, "Invalid API key.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyMatches reports whether a request carries the operator API key. Open
// endpoints use it to grant extra rights without requiring the key.
func APIKeyMatches(apiKey, headerName string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if apiKey == "" {
			return false
		}
		providedKey := r.Header.Get(headerName)
		return providedKey != "" && constantTimeEquals(apiKey, providedKey)
	}
}

// constantTimeEquals performs a constant-time string comparison
func constantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
