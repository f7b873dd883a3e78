package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-lms/meridian-lms/internal/jobs"
)

const defaultRetentionDays = 90

// GrantSweepJob hard-deletes soft-deleted grant and assignment rows once they
// age past retention. Keeps the partial unique indexes small.
type GrantSweepJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGrantSweepJob wires dependencies for the sweep handler.
func NewGrantSweepJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *GrantSweepJob {
	return &GrantSweepJob{Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle processes TaskGrantSweep tasks.
func (j *GrantSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("grant sweep: handler not configured")
	}
	var payload GrantSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = defaultRetentionDays
	}

	tracker := j.metrics().Track(TaskGrantSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := fmt.Sprintf("%d days", payload.RetentionDays)
	swept := int64(0)
	for _, query := range []string{
		`DELETE FROM grants WHERE deleted_at IS NOT NULL AND deleted_at < NOW() - $1::interval`,
		`DELETE FROM custom_role_grants WHERE deleted_at IS NOT NULL AND deleted_at < NOW() - $1::interval`,
		`DELETE FROM role_assignments WHERE deleted_at IS NOT NULL AND deleted_at < NOW() - $1::interval
			AND NOT EXISTS (SELECT 1 FROM grants g WHERE g.role_assignment_id = role_assignments.id)`,
	} {
		tag, err := j.Pool.Exec(ctx, query, cutoff)
		if err != nil {
			resultErr = err
			j.logger().Error("sweep grants", slog.Any("error", err))
			return resultErr
		}
		swept += tag.RowsAffected()
	}

	j.logger().Info("completed grant sweep",
		slog.Int64("rows", swept),
		slog.Int("retention_days", payload.RetentionDays))
	return resultErr
}

func (j *GrantSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GrantSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
