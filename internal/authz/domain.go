package authz

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RoleType identifies a role in the hierarchy. Built-in roles are seeded from
// static configuration; custom roles are registered per tenant at runtime.
type RoleType string

// PermissionKey identifies a resource/action pair, e.g. "EMPLOYEES.VIEW".
type PermissionKey string

// Sentinel errors surfaced by the authorization engine.
var (
	ErrNotFound                 = errors.New("authz: not found")
	ErrUnknownRole              = errors.New("authz: unknown role")
	ErrDuplicateRole            = errors.New("authz: duplicate role")
	ErrInvalidParent            = errors.New("authz: invalid parent role")
	ErrInvalidPermissionKey     = errors.New("authz: invalid permission key")
	ErrConcurrentModification   = errors.New("authz: concurrent modification")
	ErrAuthorizationUnavailable = errors.New("authz: authorization unavailable")
)

// RoleAssignment binds a subject to a role type within a tenant. A nil
// TenantID marks a global assignment that participates in resolution for
// every tenant the subject belongs to.
type RoleAssignment struct {
	ID         uuid.UUID
	SubjectID  uuid.UUID
	TenantID   *uuid.UUID
	RoleType   RoleType
	IsActive   bool
	IsPrimary  bool
	AssignedBy uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
	Version    int64
}

// Global reports whether the assignment is tenant-scoped or global.
func (a RoleAssignment) Global() bool {
	return a.TenantID == nil
}

// Grant records an explicit granted/denied permission on a role assignment.
// At most one active grant exists per (assignment, key) pair.
type Grant struct {
	ID               uuid.UUID
	RoleAssignmentID uuid.UUID
	Key              PermissionKey
	Granted          bool
	GrantedAt        time.Time
	GrantedBy        uuid.UUID
	DeletedAt        *time.Time
	Version          int64
}

// RoleGrant is a definition-level grant carried by a custom role. It applies
// to every assignment of that role and to descendants via inheritance.
type RoleGrant struct {
	ID           uuid.UUID
	CustomRoleID uuid.UUID
	Key          PermissionKey
	Granted      bool
	GrantedAt    time.Time
	GrantedBy    uuid.UUID
	DeletedAt    *time.Time
	Version      int64
}

// CustomRole is a tenant-defined role referencing a parent role type.
type CustomRole struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	RoleType  RoleType
	Label     string
	Parent    RoleType
	CreatedBy uuid.UUID
	CreatedAt time.Time
	DeletedAt *time.Time
}
