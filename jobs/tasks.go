package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/meridian-lms/meridian-lms/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditDispatch delivers authorization denial events to the audit
	// trail off the request path.
	TaskAuditDispatch = "audit:dispatch"
	// TaskPermissionWarmup pre-populates the resolver cache for every
	// subject scope with active assignments.
	TaskPermissionWarmup = "authz:warmup"
	// TaskGrantSweep hard-deletes soft-deleted grant rows past retention.
	TaskGrantSweep = "grants:sweep"
)

// NewAuditDispatchTask constructs an Asynq task carrying a denial event.
func NewAuditDispatchTask(ev audit.DenialEvent) (*asynq.Task, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditDispatch, data), nil
}

// PermissionWarmupPayload scopes a warmup run.
type PermissionWarmupPayload struct {
	// Limit caps how many subject scopes a single run touches. Zero means
	// no cap.
	Limit int `json:"limit,omitempty"`
}

// NewPermissionWarmupTask constructs a warmup task.
func NewPermissionWarmupTask(payload PermissionWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionWarmup, data), nil
}

// GrantSweepPayload scopes a sweep run.
type GrantSweepPayload struct {
	// RetentionDays keeps soft-deleted rows this many days before the hard
	// delete. Zero applies the default retention.
	RetentionDays int `json:"retention_days,omitempty"`
}

// NewGrantSweepTask constructs a sweep task.
func NewGrantSweepTask(payload GrantSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantSweep, data), nil
}
