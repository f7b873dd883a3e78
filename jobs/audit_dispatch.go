package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-lms/meridian-lms/internal/audit"
	jobmetrics "github.com/meridian-lms/meridian-lms/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DenialSink persists denial events. Satisfied by audit.Recorder.
type DenialSink interface {
	RecordDenial(ctx context.Context, ev audit.DenialEvent) error
}

// AuditDispatchJob drains queued denial events into the audit trail.
type AuditDispatchJob struct {
	Sink    DenialSink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditDispatchJob wires dependencies for the dispatch handler.
func NewAuditDispatchJob(sink DenialSink, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditDispatchJob {
	return &AuditDispatchJob{Sink: sink, Logger: logger, Metrics: metrics}
}

// Handle processes TaskAuditDispatch tasks.
func (j *AuditDispatchJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sink == nil {
		return errors.New("audit dispatch: handler not configured")
	}
	var ev audit.DenialEvent
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAuditDispatch)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := j.Sink.RecordDenial(ctx, ev); err != nil {
		resultErr = err
		j.logger().Error("record denial",
			slog.Any("error", err),
			slog.String("subject_id", ev.SubjectID.String()),
			slog.String("key", ev.Key))
		return resultErr
	}
	j.metrics().AddDenials(ev.Outcome, 1)
	return resultErr
}

func (j *AuditDispatchJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AuditDispatchJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// DenialDispatcher enqueues denial events for asynchronous recording. It
// satisfies the gate's recorder interface; when the queue is unreachable the
// event is written synchronously so a denial is never dropped.
type DenialDispatcher struct {
	Client   *Client
	Fallback DenialSink
	Logger   *slog.Logger
}

// RecordDenial enqueues the event.
func (d *DenialDispatcher) RecordDenial(ctx context.Context, ev audit.DenialEvent) error {
	if d.Client != nil {
		if err := d.Client.EnqueueDenial(ctx, ev); err == nil {
			return nil
		} else if d.Logger != nil {
			d.Logger.Warn("enqueue denial, falling back to direct write", slog.Any("error", err))
		}
	}
	if d.Fallback == nil {
		return errors.New("jobs: denial dispatcher has no fallback sink")
	}
	return d.Fallback.RecordDenial(ctx, ev)
}
