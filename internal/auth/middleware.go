package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Middleware resolves the bearer token on each request and attaches the
// actor to the context. Requests without a token pass through anonymously;
// the authorization middleware rejects them where a permission is required.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Authenticate is the outer HTTP middleware.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := m.Service.Verify(r.Context(), token)
		if err != nil {
			if !errors.Is(err, shared.ErrTokenExpired) && m.Logger != nil {
				m.Logger.Error("verify token", slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
