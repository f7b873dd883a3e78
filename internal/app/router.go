package app

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-lms/meridian-lms/internal/audit"
	"github.com/meridian-lms/meridian-lms/internal/auth"
	"github.com/meridian-lms/meridian-lms/internal/authz"
	"github.com/meridian-lms/meridian-lms/internal/observability"
	"github.com/meridian-lms/meridian-lms/internal/subjects"
	"github.com/meridian-lms/meridian-lms/internal/tenants"
	"github.com/meridian-lms/meridian-lms/jobs"
)

// RouterParams aggregates the handlers mounted on the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	AuthHandler     *auth.Handler
	AuthzHandler    *authz.Handler
	TenantsHandler  *tenants.Handler
	SubjectsHandler *subjects.Handler
	AuditHandler    *audit.Handler
	JobsHandler     *jobs.Handler

	Auth    *auth.Middleware
	Metrics *observability.Metrics
}

// NewRouter assembles the application router.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  p.Logger,
		Config:  p.Config,
		Auth:    p.Auth,
		Metrics: p.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if p.AuthHandler != nil {
		r.Route("/api/auth", p.AuthHandler.MountRoutes)
	}
	if p.AuthzHandler != nil {
		r.Route("/api/authz", p.AuthzHandler.MountRoutes)
	}
	if p.TenantsHandler != nil {
		r.Route("/api/tenants", p.TenantsHandler.MountRoutes)
	}
	if p.SubjectsHandler != nil {
		r.Route("/api/subjects", p.SubjectsHandler.MountRoutes)
	}
	if p.AuditHandler != nil {
		r.Route("/api/audit", p.AuditHandler.MountRoutes)
	}
	if p.JobsHandler != nil {
		r.Route("/jobs", p.JobsHandler.MountRoutes)
	}

	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics.Handler())
	}

	return r
}
