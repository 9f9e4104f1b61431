package authz

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/stanstork/aegis-api/internal/models"
)

// RequireRole rejects requests whose roles rank below required. It must run
// after the JWT middleware has stored the identity.
func RequireRole(required models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roles, ok := RolesFromRequest(r)
			if !ok || !models.HasAtLeast(roles, required) {
				uid, _ := UserIDFromRequest(r)
				zerolog.Ctx(r.Context()).Warn().
					Str("user_id", uid).
					Str("required_role", string(required)).
					Str("path", r.URL.Path).
					Msg("Role check failed")
				http.Error(w, "insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
