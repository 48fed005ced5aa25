package api

import (
	"net/http"
	"strings"

	"github.com/reedfamily/reedlink/internal/auth"
)

// AuthMiddleware requires a valid bearer token when a is enabled. Browsers
// cannot set headers on websocket upgrades, so ?token= is accepted too.
func AuthMiddleware(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a == nil || !a.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			if err := a.Verify(token); err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
