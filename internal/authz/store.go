package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-lms/meridian-lms/internal/audit"
)

// StoreRepository provides the persistence the grant store needs.
type StoreRepository interface {
	GetAssignment(ctx context.Context, id uuid.UUID) (RoleAssignment, error)
	CreateAssignment(ctx context.Context, a RoleAssignment) (RoleAssignment, error)
	RevokeAssignment(ctx context.Context, id uuid.UUID) error
	ReactivateAssignment(ctx context.Context, id uuid.UUID) (RoleAssignment, error)
	ListActiveGrants(ctx context.Context, assignmentID uuid.UUID) ([]Grant, error)
	GetActiveGrant(ctx context.Context, assignmentID uuid.UUID, key PermissionKey) (Grant, error)
	InsertGrant(ctx context.Context, g Grant) (Grant, error)
	UpdateGrant(ctx context.Context, id uuid.UUID, granted bool, grantedBy uuid.UUID, version int64) (Grant, error)
	SoftDeleteGrant(ctx context.Context, assignmentID uuid.UUID, key PermissionKey) error
	GetCustomRole(ctx context.Context, tenantID uuid.UUID, roleType RoleType) (CustomRole, error)
	ListActiveRoleGrants(ctx context.Context, customRoleID uuid.UUID) ([]RoleGrant, error)
	GetActiveRoleGrant(ctx context.Context, customRoleID uuid.UUID, key PermissionKey) (RoleGrant, error)
	InsertRoleGrant(ctx context.Context, g RoleGrant) (RoleGrant, error)
	UpdateRoleGrant(ctx context.Context, id uuid.UUID, granted bool, grantedBy uuid.UUID, version int64) (RoleGrant, error)
	SoftDeleteRoleGrant(ctx context.Context, customRoleID uuid.UUID, key PermissionKey) error
}

// AuditSink receives grant mutation records. Audit failures are logged, not
// propagated: the mutation already committed.
type AuditSink interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Store is the single write path for role assignments and grants. Every
// mutation validates against the catalog, invalidates the resolver cache for
// the affected scope synchronously, and lands on the audit trail.
type Store struct {
	repo      StoreRepository
	catalog   *Catalog
	hierarchy *Hierarchy
	cache     *Cache
	audit     AuditSink
	logger    *slog.Logger
}

// NewStore constructs a Store. Cache and audit sink may be nil in tests.
func NewStore(repo StoreRepository, catalog *Catalog, hierarchy *Hierarchy, cache *Cache, auditSink AuditSink, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, catalog: catalog, hierarchy: hierarchy, cache: cache, audit: auditSink, logger: logger}
}

// UpsertGrantParams captures a grant write. Version carries the optimistic
// concurrency token: the grant version the caller last observed, or zero
// when the caller holds no token.
type UpsertGrantParams struct {
	RoleAssignmentID uuid.UUID
	Key              PermissionKey
	Granted          bool
	GrantedBy        uuid.UUID
	Version          int64
}

// UpsertGrant updates the active grant for the (assignment, key) pair or
// creates one. A stale version token fails with ErrConcurrentModification.
func (s *Store) UpsertGrant(ctx context.Context, params UpsertGrantParams) (Grant, error) {
	if !s.catalog.IsValidKey(params.Key) {
		return Grant{}, fmt.Errorf("%w: %s", ErrInvalidPermissionKey, params.Key)
	}
	assignment, err := s.repo.GetAssignment(ctx, params.RoleAssignmentID)
	if err != nil {
		return Grant{}, err
	}

	existing, err := s.repo.GetActiveGrant(ctx, params.RoleAssignmentID, params.Key)
	switch {
	case err == nil:
		expected := params.Version
		if expected == 0 {
			expected = existing.Version
		}
		updated, err := s.repo.UpdateGrant(ctx, existing.ID, params.Granted, params.GrantedBy, expected)
		if err != nil {
			return Grant{}, err
		}
		s.afterMutation(ctx, assignment, params.GrantedBy, "grant.update", updated.ID.String(), map[string]any{
			"key":     string(params.Key),
			"granted": params.Granted,
		})
		return updated, nil
	case errors.Is(err, ErrNotFound):
		if params.Version != 0 {
			// The caller believes a grant exists; it was revoked under them.
			return Grant{}, ErrConcurrentModification
		}
		created, err := s.repo.InsertGrant(ctx, Grant{
			ID:               uuid.New(),
			RoleAssignmentID: params.RoleAssignmentID,
			Key:              params.Key,
			Granted:          params.Granted,
			GrantedBy:        params.GrantedBy,
		})
		if err != nil {
			return Grant{}, err
		}
		s.afterMutation(ctx, assignment, params.GrantedBy, "grant.create", created.ID.String(), map[string]any{
			"key":     string(params.Key),
			"granted": params.Granted,
		})
		return created, nil
	default:
		return Grant{}, err
	}
}

// RevokeGrant soft-deletes the active grant for the pair. Idempotent:
// revoking a missing or already revoked grant is not an error. The key is
// deliberately not catalog-checked so grants for retired keys stay
// revocable.
func (s *Store) RevokeGrant(ctx context.Context, roleAssignmentID uuid.UUID, key PermissionKey, revokedBy uuid.UUID) error {
	assignment, err := s.repo.GetAssignment(ctx, roleAssignmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.repo.SoftDeleteGrant(ctx, roleAssignmentID, key); err != nil {
		return err
	}
	s.afterMutation(ctx, assignment, revokedBy, "grant.revoke", roleAssignmentID.String(), map[string]any{
		"key": string(key),
	})
	return nil
}

// ListGrants returns the assignment's active grants.
func (s *Store) ListGrants(ctx context.Context, roleAssignmentID uuid.UUID) ([]Grant, error) {
	return s.repo.ListActiveGrants(ctx, roleAssignmentID)
}

// AssignRoleParams captures a role assignment request. A nil TenantID
// creates a global assignment, which is only valid for built-in roles since
// custom roles are tenant-scoped.
type AssignRoleParams struct {
	SubjectID  uuid.UUID
	TenantID   *uuid.UUID
	RoleType   RoleType
	IsPrimary  bool
	AssignedBy uuid.UUID
}

// AssignRole creates an active role assignment after validating the role
// exists for the scope.
func (s *Store) AssignRole(ctx context.Context, params AssignRoleParams) (RoleAssignment, error) {
	if params.TenantID == nil {
		if !s.hierarchy.IsBuiltin(params.RoleType) {
			return RoleAssignment{}, fmt.Errorf("%w: global assignments require a built-in role, got %s", ErrUnknownRole, params.RoleType)
		}
	} else {
		if _, err := s.hierarchy.ResolveParentChain(ctx, params.RoleType, *params.TenantID); err != nil {
			return RoleAssignment{}, err
		}
	}
	created, err := s.repo.CreateAssignment(ctx, RoleAssignment{
		ID:         uuid.New(),
		SubjectID:  params.SubjectID,
		TenantID:   params.TenantID,
		RoleType:   params.RoleType,
		IsPrimary:  params.IsPrimary,
		AssignedBy: params.AssignedBy,
	})
	if err != nil {
		return RoleAssignment{}, err
	}
	s.afterMutation(ctx, created, params.AssignedBy, "role.assign", created.ID.String(), map[string]any{
		"role_type": string(params.RoleType),
		"primary":   params.IsPrimary,
	})
	return created, nil
}

// RevokeRole soft-deletes the assignment and cascades to its grants.
// Idempotent.
func (s *Store) RevokeRole(ctx context.Context, roleAssignmentID, revokedBy uuid.UUID) error {
	assignment, err := s.repo.GetAssignment(ctx, roleAssignmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.repo.RevokeAssignment(ctx, roleAssignmentID); err != nil {
		return err
	}
	s.afterMutation(ctx, assignment, revokedBy, "role.revoke", roleAssignmentID.String(), map[string]any{
		"role_type": string(assignment.RoleType),
	})
	return nil
}

// ReactivateRole clears the assignment's soft-delete timestamp.
func (s *Store) ReactivateRole(ctx context.Context, roleAssignmentID, actorID uuid.UUID) (RoleAssignment, error) {
	assignment, err := s.repo.ReactivateAssignment(ctx, roleAssignmentID)
	if err != nil {
		return RoleAssignment{}, err
	}
	s.afterMutation(ctx, assignment, actorID, "role.reactivate", roleAssignmentID.String(), map[string]any{
		"role_type": string(assignment.RoleType),
	})
	return assignment, nil
}

// UpsertRoleGrantParams captures a definition-level grant write on a custom
// role.
type UpsertRoleGrantParams struct {
	TenantID  uuid.UUID
	RoleType  RoleType
	Key       PermissionKey
	Granted   bool
	GrantedBy uuid.UUID
	Version   int64
}

// UpsertRoleGrant writes a definition-level grant on a custom role. These
// apply to every subject holding the role, so the whole tenant scope is
// invalidated.
func (s *Store) UpsertRoleGrant(ctx context.Context, params UpsertRoleGrantParams) (RoleGrant, error) {
	if !s.catalog.IsValidKey(params.Key) {
		return RoleGrant{}, fmt.Errorf("%w: %s", ErrInvalidPermissionKey, params.Key)
	}
	role, err := s.repo.GetCustomRole(ctx, params.TenantID, params.RoleType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RoleGrant{}, fmt.Errorf("%w: %s", ErrUnknownRole, params.RoleType)
		}
		return RoleGrant{}, err
	}

	existing, err := s.repo.GetActiveRoleGrant(ctx, role.ID, params.Key)
	switch {
	case err == nil:
		expected := params.Version
		if expected == 0 {
			expected = existing.Version
		}
		updated, err := s.repo.UpdateRoleGrant(ctx, existing.ID, params.Granted, params.GrantedBy, expected)
		if err != nil {
			return RoleGrant{}, err
		}
		s.afterTenantMutation(ctx, params.TenantID, params.GrantedBy, "role_grant.update", updated.ID.String(), map[string]any{
			"role_type": string(params.RoleType),
			"key":       string(params.Key),
			"granted":   params.Granted,
		})
		return updated, nil
	case errors.Is(err, ErrNotFound):
		if params.Version != 0 {
			return RoleGrant{}, ErrConcurrentModification
		}
		created, err := s.repo.InsertRoleGrant(ctx, RoleGrant{
			ID:           uuid.New(),
			CustomRoleID: role.ID,
			Key:          params.Key,
			Granted:      params.Granted,
			GrantedBy:    params.GrantedBy,
		})
		if err != nil {
			return RoleGrant{}, err
		}
		s.afterTenantMutation(ctx, params.TenantID, params.GrantedBy, "role_grant.create", created.ID.String(), map[string]any{
			"role_type": string(params.RoleType),
			"key":       string(params.Key),
			"granted":   params.Granted,
		})
		return created, nil
	default:
		return RoleGrant{}, err
	}
}

// RevokeRoleGrant soft-deletes a definition-level grant. Idempotent.
func (s *Store) RevokeRoleGrant(ctx context.Context, tenantID uuid.UUID, roleType RoleType, key PermissionKey, revokedBy uuid.UUID) error {
	role, err := s.repo.GetCustomRole(ctx, tenantID, roleType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.repo.SoftDeleteRoleGrant(ctx, role.ID, key); err != nil {
		return err
	}
	s.afterTenantMutation(ctx, tenantID, revokedBy, "role_grant.revoke", role.ID.String(), map[string]any{
		"role_type": string(roleType),
		"key":       string(key),
	})
	return nil
}

// ListRoleGrants returns a custom role's active definition-level grants.
func (s *Store) ListRoleGrants(ctx context.Context, tenantID uuid.UUID, roleType RoleType) ([]RoleGrant, error) {
	role, err := s.repo.GetCustomRole(ctx, tenantID, roleType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, roleType)
		}
		return nil, err
	}
	return s.repo.ListActiveRoleGrants(ctx, role.ID)
}

func (s *Store) afterMutation(ctx context.Context, assignment RoleAssignment, actorID uuid.UUID, action, entityID string, meta map[string]any) {
	if err := s.cache.Invalidate(ctx, assignment.SubjectID, assignment.TenantID); err != nil {
		s.logger.Error("invalidate permission cache", slog.Any("error", err), slog.String("subject_id", assignment.SubjectID.String()))
	}
	s.record(ctx, actorID, action, "role_assignment", entityID, meta)
}

func (s *Store) afterTenantMutation(ctx context.Context, tenantID, actorID uuid.UUID, action, entityID string, meta map[string]any) {
	if err := s.cache.InvalidateTenant(ctx, tenantID); err != nil {
		s.logger.Error("invalidate tenant permission cache", slog.Any("error", err), slog.String("tenant_id", tenantID.String()))
	}
	s.record(ctx, actorID, action, "custom_role", entityID, meta)
}

func (s *Store) record(ctx context.Context, actorID uuid.UUID, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		s.logger.Error("record audit entry", slog.Any("error", err), slog.String("action", action))
	}
}
