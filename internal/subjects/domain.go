package subjects

import (
	"time"

	"github.com/google/uuid"
)

// Subject statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Subject is a person or service account that holds role assignments within
// a tenant.
type Subject struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Email        string
	Name         string
	Status       string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Active reports whether the subject can authenticate.
func (s Subject) Active() bool {
	return s.Status == StatusActive && s.DeletedAt == nil
}
