package gateway

import (
	"net/http"
	"strings"
)

// BearerAuth returns middleware enforcing Authorization: Bearer <token> on
// every request when token is non-empty. An empty token disables the check,
// which is the expected setup for a device reachable only on the local
// network. Failures return 401 with no body.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			const prefix = "Bearer "
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, prefix) || strings.TrimSpace(auth[len(prefix):]) != token {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
