// Package middleware holds the command surface's chi middleware, grounded
// on the teacher's server/middleware package but reduced to a single static
// bearer credential since there is exactly one operator.
package middleware

import (
	"net/http"
	"strings"

	"github.com/delinoio/delidev/internal/auth"
)

// Auth takes the credential from the Authorization: Bearer header, or, when
// that header is absent, from the "token" query parameter (for websocket
// clients that cannot set arbitrary headers during the upgrade), and lets
// the request through if svc accepts it as either the API key or a
// short-lived reconnect token.
func Auth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" || (!svc.Validate(token) && !svc.ValidateReconnectToken(token)) {
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		return authHeader[7:]
	}
	return r.URL.Query().Get("token")
}
