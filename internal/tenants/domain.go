package tenants

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated organization on the platform. Roles, grants and
// subjects all resolve within a tenant boundary.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Slug      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}
