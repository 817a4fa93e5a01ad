package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/example/blog-platform/internal/platform/api"
)

// IsAdmin reports whether the identity in ctx carries the admin role.
func IsAdmin(ctx context.Context) bool {
	role, _ := RoleFromContext(ctx)
	return strings.EqualFold(strings.TrimSpace(role), "admin")
}

// RequireAdmin allows request only if RequireUser already injected role=admin into context.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			api.Forbidden(w, "ADMIN_ONLY", "admin role required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
