package authz

import (
	"net/http"
	"strings"

	"log/slog"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Middleware wires authorization checks for HTTP handlers.
type Middleware struct {
	Gate   *Gate
	Logger *slog.Logger
}

// RequireAny ensures the current actor holds at least one of the keys.
func (m Middleware) RequireAny(keys ...PermissionKey) func(http.Handler) http.Handler {
	normalized := normalizeKeys(keys)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			if m.Gate.AuthorizeAny(r.Context(), actor.SubjectID, actor.TenantID, normalized...) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Error(w, http.StatusForbidden, "ACCESS_DENIED", "permission denied")
		})
	}
}

// RequireAll ensures the current actor holds every key.
func (m Middleware) RequireAll(keys ...PermissionKey) func(http.Handler) http.Handler {
	normalized := normalizeKeys(keys)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			if m.Gate.AuthorizeAll(r.Context(), actor.SubjectID, actor.TenantID, normalized...) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Error(w, http.StatusForbidden, "ACCESS_DENIED", "permission denied")
		})
	}
}

func normalizeKeys(keys []PermissionKey) []PermissionKey {
	unique := make(map[PermissionKey]struct{}, len(keys))
	for _, key := range keys {
		key = PermissionKey(strings.ToUpper(strings.TrimSpace(string(key))))
		if key == "" {
			continue
		}
		unique[key] = struct{}{}
	}
	normalized := make([]PermissionKey, 0, len(unique))
	for key := range unique {
		normalized = append(normalized, key)
	}
	return normalized
}
