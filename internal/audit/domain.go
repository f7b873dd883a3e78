package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry represents a record stored in audit_logs.
type Entry struct {
	ActorID  uuid.UUID
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// DenialEvent captures a denied authorization check for the compliance
// trail.
type DenialEvent struct {
	SubjectID uuid.UUID `json:"subject_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Key       string    `json:"key"`
	Outcome   string    `json:"outcome"`
	At        time.Time `json:"at"`
}

// TimelineRow is a single item in the audit timeline.
type TimelineRow struct {
	At       time.Time
	ActorID  uuid.UUID
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
}

// TimelineFilters narrows the timeline query.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  *uuid.UUID
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// PagingInfo describes the paged result window.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}
