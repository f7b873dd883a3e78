package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-lms/meridian-lms/internal/app"
	"github.com/meridian-lms/meridian-lms/internal/audit"
	"github.com/meridian-lms/meridian-lms/internal/authz"
	jobmetrics "github.com/meridian-lms/meridian-lms/internal/jobs"
	"github.com/meridian-lms/meridian-lms/internal/platform/db"
	"github.com/meridian-lms/meridian-lms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	authzRepo := authz.NewRepository(pool)
	hierarchy, err := authz.NewHierarchy(authz.DefaultBuiltinRoles(), authzRepo)
	if err != nil {
		logger.Error("build role hierarchy", slog.Any("error", err))
		os.Exit(1)
	}
	catalog := authz.DefaultCatalog()
	permCache := authz.NewCache(redisClient, cfg.PermissionCacheTTL)
	resolver := authz.NewResolver(authzRepo, hierarchy, catalog, permCache, logger)

	metrics := jobmetrics.NewMetrics(nil)
	auditRecorder := audit.NewRecorder(pool)

	dispatchJob := jobs.NewAuditDispatchJob(auditRecorder, logger, metrics)
	warmupJob := jobs.NewPermissionWarmupJob(authzRepo, resolver, logger, metrics)
	sweepJob := jobs.NewGrantSweepJob(pool, logger, metrics)

	warmupTask, err := jobs.NewPermissionWarmupTask(jobs.PermissionWarmupPayload{Limit: cfg.WarmupLimit})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewGrantSweepTask(jobs.GrantSweepPayload{RetentionDays: cfg.SweepRetentionDays})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditDispatch, Handler: dispatchJob.Handle},
			{Type: jobs.TaskPermissionWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskGrantSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: fmt.Sprintf("@every %s", cfg.WarmupInterval), Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: fmt.Sprintf("@every %s", cfg.SweepInterval), Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
