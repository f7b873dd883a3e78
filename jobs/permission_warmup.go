package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/meridian-lms/meridian-lms/internal/authz"
	jobmetrics "github.com/meridian-lms/meridian-lms/internal/jobs"
)

// ScopeLister enumerates subject scopes for warmup. Satisfied by the authz
// repository.
type ScopeLister interface {
	ListSubjectScopes(ctx context.Context) ([]authz.SubjectScope, error)
}

// PermissionWarmupJob resolves every active subject scope so the first
// request after a cache flush hits warm entries.
type PermissionWarmupJob struct {
	Scopes   ScopeLister
	Resolver *authz.Resolver
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewPermissionWarmupJob wires dependencies for the warmup handler.
func NewPermissionWarmupJob(scopes ScopeLister, resolver *authz.Resolver, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionWarmupJob {
	return &PermissionWarmupJob{Scopes: scopes, Resolver: resolver, Logger: logger, Metrics: metrics}
}

// Handle processes TaskPermissionWarmup tasks.
func (j *PermissionWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scopes == nil || j.Resolver == nil {
		return errors.New("permission warmup: handler not configured")
	}
	var payload PermissionWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPermissionWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	started := time.Now()

	scopes, err := j.Scopes.ListSubjectScopes(ctx)
	if err != nil {
		resultErr = err
		logger.Error("load warmup scopes", slog.Any("error", err))
		return resultErr
	}
	if payload.Limit > 0 && len(scopes) > payload.Limit {
		scopes = scopes[:payload.Limit]
	}

	warmed := 0
	for _, scope := range scopes {
		// The scope query expands global assignments against the subject's
		// home tenant, so a nil tenant here means a scope no request resolves.
		if scope.TenantID == nil || *scope.TenantID == uuid.Nil {
			continue
		}
		// A warmup miss is not fatal: log and keep going.
		scopeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := j.Resolver.Resolve(scopeCtx, scope.SubjectID, *scope.TenantID)
		cancel()
		if err != nil {
			logger.Warn("warm scope",
				slog.String("subject_id", scope.SubjectID.String()),
				slog.Any("error", err))
			continue
		}
		warmed++
	}

	logger.Info("completed permission warmup",
		slog.Int("scopes", warmed),
		slog.Duration("duration", time.Since(started)))
	return resultErr
}

func (j *PermissionWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PermissionWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
