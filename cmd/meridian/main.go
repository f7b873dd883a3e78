package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-lms/meridian-lms/internal/app"
	"github.com/meridian-lms/meridian-lms/internal/audit"
	"github.com/meridian-lms/meridian-lms/internal/auth"
	"github.com/meridian-lms/meridian-lms/internal/authz"
	"github.com/meridian-lms/meridian-lms/internal/observability"
	"github.com/meridian-lms/meridian-lms/internal/platform/db"
	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/subjects"
	"github.com/meridian-lms/meridian-lms/internal/tenants"
	"github.com/meridian-lms/meridian-lms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	authzRepo := authz.NewRepository(dbpool)
	hierarchy, err := authz.NewHierarchy(authz.DefaultBuiltinRoles(), authzRepo)
	if err != nil {
		logger.Error("build role hierarchy", slog.Any("error", err))
		os.Exit(1)
	}
	catalog := authz.DefaultCatalog()
	permCache := authz.NewCache(redisClient, cfg.PermissionCacheTTL)
	resolver := authz.NewResolver(authzRepo, hierarchy, catalog, permCache, logger)

	auditRecorder := audit.NewRecorder(dbpool)
	auditRepo := audit.NewPGRepository(dbpool)
	auditService := audit.NewService(auditRepo)

	store := authz.NewStore(authzRepo, catalog, hierarchy, permCache, auditRecorder, logger)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	denialDispatcher := &jobs.DenialDispatcher{Client: jobClient, Fallback: auditRecorder, Logger: logger}

	metrics := observability.NewMetrics()
	gate := authz.NewGate(resolver, denialDispatcher, metrics, logger)
	authzMW := authz.Middleware{Gate: gate, Logger: logger}

	tokenManager := auth.NewTokenManager(redisClient, cfg.TokenTTL)
	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, tokenManager)
	authHandler := auth.NewHandler(logger, authService)
	authMW := &auth.Middleware{Service: authService, Logger: logger}

	tenantsService := tenants.NewService(tenants.NewRepository(dbpool))
	subjectsService := subjects.NewService(subjects.NewRepository(dbpool))

	if err := bootstrapAdmin(ctx, cfg, logger, tenantsService, subjectsService, store); err != nil {
		logger.Error("bootstrap admin", slog.Any("error", err))
		os.Exit(1)
	}

	authzHandler := authz.NewHandler(logger, store, hierarchy, catalog, resolver, authzMW)
	tenantsHandler := tenants.NewHandler(logger, tenantsService, authzMW)
	subjectsHandler := subjects.NewHandler(logger, subjectsService, authzMW)
	auditHandler := audit.NewHandler(logger, auditService,
		audit.Guard(authzMW.RequireAny("AUDIT.VIEW")),
		audit.Guard(authzMW.RequireAny("AUDIT.EXPORT")))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AuthHandler:     authHandler,
		AuthzHandler:    authzHandler,
		TenantsHandler:  tenantsHandler,
		SubjectsHandler: subjectsHandler,
		AuditHandler:    auditHandler,
		JobsHandler:     jobsHandler,
		Auth:            authMW,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// bootstrapAdmin ensures a SUPERADMIN account exists when bootstrap
// credentials are configured. Reruns are no-ops.
func bootstrapAdmin(ctx context.Context, cfg *app.Config, logger *slog.Logger, tenantsService *tenants.Service, subjectsService *subjects.Service, store *authz.Store) error {
	if cfg.BootstrapEmail == "" || cfg.BootstrapPassword == "" {
		return nil
	}

	tenant, err := ensureBootstrapTenant(ctx, tenantsService)
	if err != nil {
		return err
	}

	subject, err := subjectsService.Create(ctx, subjects.CreateParams{
		TenantID: tenant.ID,
		Email:    cfg.BootstrapEmail,
		Name:     "Platform Admin",
		Password: cfg.BootstrapPassword,
	})
	if err != nil {
		if errors.Is(err, httpx.ErrDuplicate) {
			logger.Info("bootstrap admin already present", slog.String("email", cfg.BootstrapEmail))
			return nil
		}
		return err
	}

	_, err = store.AssignRole(ctx, authz.AssignRoleParams{
		SubjectID:  subject.ID,
		TenantID:   nil,
		RoleType:   "SUPERADMIN",
		IsPrimary:  true,
		AssignedBy: subject.ID,
	})
	if err != nil {
		return err
	}
	logger.Info("bootstrap admin created", slog.String("email", cfg.BootstrapEmail))
	return nil
}

func ensureBootstrapTenant(ctx context.Context, service *tenants.Service) (tenants.Tenant, error) {
	tenant, err := service.Create(ctx, "Meridian", "meridian")
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, httpx.ErrDuplicate) {
		return tenants.Tenant{}, err
	}
	existing, err := service.List(ctx)
	if err != nil {
		return tenants.Tenant{}, err
	}
	for _, t := range existing {
		if t.Slug == "meridian" {
			return t, nil
		}
	}
	return tenants.Tenant{}, errors.New("bootstrap tenant missing after duplicate")
}
