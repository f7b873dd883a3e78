package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-lms/meridian-lms/internal/platform/db"
)

const uniqueViolation = "23505"

// Partial unique indexes backing the assignment invariants. The primary
// index is what makes one-primary-per-scope hold under concurrent inserts;
// the application-level demote only handles the sequential case.
const (
	assignmentRoleConstraint    = "role_assignments_unique_active"
	assignmentPrimaryConstraint = "role_assignments_primary_active"
)

// Repository provides PostgreSQL backed persistence for role assignments,
// grants and custom roles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SubjectScope identifies a (subject, tenant) pair with active assignments.
type SubjectScope struct {
	SubjectID uuid.UUID
	TenantID  *uuid.UUID
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// mapAssignmentInsertError classifies a unique violation on the assignment
// insert by constraint. Losing the primary race is a concurrency conflict
// the caller can retry; re-assigning the same role is a duplicate.
func mapAssignmentInsertError(err error, roleType RoleType) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	if pgErr.ConstraintName == assignmentPrimaryConstraint {
		return fmt.Errorf("authz: primary assignment raced for role %s: %w", roleType, ErrConcurrentModification)
	}
	return fmt.Errorf("authz: subject already holds role %s: %w", roleType, ErrDuplicateRole)
}

// ---------------------------------------------------------------------------
// Custom roles
// ---------------------------------------------------------------------------

// GetCustomRole fetches an active custom role by tenant and role type.
func (r *Repository) GetCustomRole(ctx context.Context, tenantID uuid.UUID, roleType RoleType) (CustomRole, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, role_type, label, parent_role, created_by, created_at, deleted_at
		FROM custom_roles
		WHERE tenant_id = $1 AND role_type = $2 AND deleted_at IS NULL`,
		tenantID, roleType)
	return scanCustomRole(row)
}

// CreateCustomRole inserts a custom role. A concurrent insert of the same
// active (tenant, role type) pair fails with ErrDuplicateRole.
func (r *Repository) CreateCustomRole(ctx context.Context, role CustomRole) (CustomRole, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO custom_roles (id, tenant_id, role_type, label, parent_role, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, tenant_id, role_type, label, parent_role, created_by, created_at, deleted_at`,
		role.ID, role.TenantID, role.RoleType, role.Label, role.Parent, role.CreatedBy)
	created, err := scanCustomRole(row)
	if err != nil {
		if isUniqueViolation(err) {
			return CustomRole{}, fmt.Errorf("%w: %s", ErrDuplicateRole, role.RoleType)
		}
		return CustomRole{}, err
	}
	return created, nil
}

// ListCustomRoles returns the tenant's active custom roles.
func (r *Repository) ListCustomRoles(ctx context.Context, tenantID uuid.UUID) ([]CustomRole, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, role_type, label, parent_role, created_by, created_at, deleted_at
		FROM custom_roles
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY role_type`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []CustomRole
	for rows.Next() {
		role, err := scanCustomRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func scanCustomRole(row pgx.Row) (CustomRole, error) {
	var role CustomRole
	err := row.Scan(&role.ID, &role.TenantID, &role.RoleType, &role.Label, &role.Parent, &role.CreatedBy, &role.CreatedAt, &role.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CustomRole{}, ErrNotFound
		}
		return CustomRole{}, err
	}
	return role, nil
}

// ---------------------------------------------------------------------------
// Role assignments
// ---------------------------------------------------------------------------

const assignmentColumns = `id, subject_id, tenant_id, role_type, is_active, is_primary, assigned_by, created_at, updated_at, deleted_at, version`

// GetAssignment fetches an assignment by ID regardless of lifecycle state.
func (r *Repository) GetAssignment(ctx context.Context, id uuid.UUID) (RoleAssignment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM role_assignments WHERE id = $1`, id)
	return scanAssignment(row)
}

// ListActiveAssignments returns the subject's active, non-deleted assignments
// scoped to the tenant, plus global assignments.
func (r *Repository) ListActiveAssignments(ctx context.Context, subjectID, tenantID uuid.UUID) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM role_assignments
		WHERE subject_id = $1
		  AND (tenant_id = $2 OR tenant_id IS NULL)
		  AND is_active
		  AND deleted_at IS NULL
		ORDER BY created_at`,
		subjectID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// CreateAssignment inserts an assignment. When the assignment is marked
// primary, any existing primary for the same subject and tenant is demoted in
// the same transaction so the one-primary invariant holds.
func (r *Repository) CreateAssignment(ctx context.Context, a RoleAssignment) (RoleAssignment, error) {
	var created RoleAssignment
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if a.IsPrimary {
			if _, err := tx.Exec(ctx, `
				UPDATE role_assignments
				SET is_primary = FALSE, updated_at = NOW(), version = version + 1
				WHERE subject_id = $1
				  AND tenant_id IS NOT DISTINCT FROM $2
				  AND is_primary
				  AND deleted_at IS NULL`,
				a.SubjectID, a.TenantID); err != nil {
				return err
			}
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO role_assignments (id, subject_id, tenant_id, role_type, is_active, is_primary, assigned_by, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4, TRUE, $5, $6, NOW(), NOW(), 1)
			RETURNING `+assignmentColumns,
			a.ID, a.SubjectID, a.TenantID, a.RoleType, a.IsPrimary, a.AssignedBy)
		var err error
		created, err = scanAssignment(row)
		return err
	})
	if err != nil {
		return RoleAssignment{}, mapAssignmentInsertError(err, a.RoleType)
	}
	return created, nil
}

// RevokeAssignment soft-deletes the assignment and cascades the soft delete
// to its grants. Revoking an already revoked assignment is a no-op.
func (r *Repository) RevokeAssignment(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE role_assignments
			SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW(), version = version + 1
			WHERE id = $1 AND deleted_at IS NULL`,
			id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE grants
			SET deleted_at = NOW(), version = version + 1
			WHERE role_assignment_id = $1 AND deleted_at IS NULL`,
			id)
		return err
	})
}

// ReactivateAssignment clears the soft-delete timestamp. Grants revoked by
// the cascade stay revoked; re-granting is an explicit administrative act.
// The primary flag is restored only when no other active assignment already
// holds primary in the same scope; otherwise the row comes back demoted so
// the one-primary-per-scope index stays satisfied.
func (r *Repository) ReactivateAssignment(ctx context.Context, id uuid.UUID) (RoleAssignment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE role_assignments
		SET deleted_at = NULL, is_active = TRUE, updated_at = NOW(), version = version + 1,
		    is_primary = is_primary AND NOT EXISTS (
		        SELECT 1 FROM role_assignments o
		        WHERE o.subject_id = role_assignments.subject_id
		          AND o.tenant_id IS NOT DISTINCT FROM role_assignments.tenant_id
		          AND o.id <> role_assignments.id
		          AND o.is_primary AND o.deleted_at IS NULL
		    )
		WHERE id = $1
		RETURNING `+assignmentColumns,
		id)
	return scanAssignment(row)
}

// ListSubjectScopes returns every distinct (subject, tenant) pair holding at
// least one active assignment. Global assignments are expanded against the
// subject's home tenant so the warmup resolves the scopes requests actually
// hit; a resolution under uuid.Nil would cache entries no request path reads.
func (r *Repository) ListSubjectScopes(ctx context.Context) ([]SubjectScope, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ra.subject_id, COALESCE(ra.tenant_id, s.tenant_id) AS tenant_id
		FROM role_assignments ra
		JOIN subjects s ON s.id = ra.subject_id
		WHERE ra.is_active AND ra.deleted_at IS NULL
		ORDER BY ra.subject_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scopes []SubjectScope
	for rows.Next() {
		var s SubjectScope
		if err := rows.Scan(&s.SubjectID, &s.TenantID); err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

func scanAssignment(row pgx.Row) (RoleAssignment, error) {
	var a RoleAssignment
	err := row.Scan(&a.ID, &a.SubjectID, &a.TenantID, &a.RoleType, &a.IsActive, &a.IsPrimary, &a.AssignedBy, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt, &a.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleAssignment{}, ErrNotFound
		}
		return RoleAssignment{}, err
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Grants
// ---------------------------------------------------------------------------

const grantColumns = `id, role_assignment_id, permission_key, granted, granted_at, granted_by, deleted_at, version`

// ListActiveGrants returns the assignment's non-deleted grants.
func (r *Repository) ListActiveGrants(ctx context.Context, assignmentID uuid.UUID) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+grantColumns+`
		FROM grants
		WHERE role_assignment_id = $1 AND deleted_at IS NULL
		ORDER BY permission_key`,
		assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// GetActiveGrant fetches the active grant for an (assignment, key) pair.
func (r *Repository) GetActiveGrant(ctx context.Context, assignmentID uuid.UUID, key PermissionKey) (Grant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+grantColumns+`
		FROM grants
		WHERE role_assignment_id = $1 AND permission_key = $2 AND deleted_at IS NULL`,
		assignmentID, key)
	return scanGrant(row)
}

// InsertGrant creates a grant row. The partial unique index on active
// (assignment, key) pairs turns a racing duplicate insert into
// ErrConcurrentModification so the losing writer retries with fresh state.
func (r *Repository) InsertGrant(ctx context.Context, g Grant) (Grant, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO grants (id, role_assignment_id, permission_key, granted, granted_at, granted_by, version)
		VALUES ($1, $2, $3, $4, NOW(), $5, 1)
		RETURNING `+grantColumns,
		g.ID, g.RoleAssignmentID, g.Key, g.Granted, g.GrantedBy)
	created, err := scanGrant(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Grant{}, ErrConcurrentModification
		}
		return Grant{}, err
	}
	return created, nil
}

// UpdateGrant updates the granted flag under optimistic concurrency. A stale
// version fails with ErrConcurrentModification.
func (r *Repository) UpdateGrant(ctx context.Context, id uuid.UUID, granted bool, grantedBy uuid.UUID, version int64) (Grant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE grants
		SET granted = $2, granted_at = NOW(), granted_by = $3, version = version + 1
		WHERE id = $1 AND deleted_at IS NULL AND version = $4
		RETURNING `+grantColumns,
		id, granted, grantedBy, version)
	updated, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Grant{}, ErrConcurrentModification
		}
		return Grant{}, err
	}
	return updated, nil
}

// SoftDeleteGrant revokes the active grant for the pair. Idempotent: deleting
// a missing or already revoked grant affects zero rows and is not an error.
func (r *Repository) SoftDeleteGrant(ctx context.Context, assignmentID uuid.UUID, key PermissionKey) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE grants
		SET deleted_at = NOW(), version = version + 1
		WHERE role_assignment_id = $1 AND permission_key = $2 AND deleted_at IS NULL`,
		assignmentID, key)
	return err
}

func scanGrant(row pgx.Row) (Grant, error) {
	var g Grant
	err := row.Scan(&g.ID, &g.RoleAssignmentID, &g.Key, &g.Granted, &g.GrantedAt, &g.GrantedBy, &g.DeletedAt, &g.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Grant{}, ErrNotFound
		}
		return Grant{}, err
	}
	return g, nil
}

// ---------------------------------------------------------------------------
// Custom role grants (definition level)
// ---------------------------------------------------------------------------

const roleGrantColumns = `id, custom_role_id, permission_key, granted, granted_at, granted_by, deleted_at, version`

// ListActiveRoleGrants returns the custom role's definition-level grants.
func (r *Repository) ListActiveRoleGrants(ctx context.Context, customRoleID uuid.UUID) ([]RoleGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+roleGrantColumns+`
		FROM custom_role_grants
		WHERE custom_role_id = $1 AND deleted_at IS NULL
		ORDER BY permission_key`,
		customRoleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []RoleGrant
	for rows.Next() {
		g, err := scanRoleGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// GetActiveRoleGrant fetches the active definition-level grant for a pair.
func (r *Repository) GetActiveRoleGrant(ctx context.Context, customRoleID uuid.UUID, key PermissionKey) (RoleGrant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+roleGrantColumns+`
		FROM custom_role_grants
		WHERE custom_role_id = $1 AND permission_key = $2 AND deleted_at IS NULL`,
		customRoleID, key)
	return scanRoleGrant(row)
}

// InsertRoleGrant creates a definition-level grant row.
func (r *Repository) InsertRoleGrant(ctx context.Context, g RoleGrant) (RoleGrant, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO custom_role_grants (id, custom_role_id, permission_key, granted, granted_at, granted_by, version)
		VALUES ($1, $2, $3, $4, NOW(), $5, 1)
		RETURNING `+roleGrantColumns,
		g.ID, g.CustomRoleID, g.Key, g.Granted, g.GrantedBy)
	created, err := scanRoleGrant(row)
	if err != nil {
		if isUniqueViolation(err) {
			return RoleGrant{}, ErrConcurrentModification
		}
		return RoleGrant{}, err
	}
	return created, nil
}

// UpdateRoleGrant updates a definition-level grant under optimistic
// concurrency.
func (r *Repository) UpdateRoleGrant(ctx context.Context, id uuid.UUID, granted bool, grantedBy uuid.UUID, version int64) (RoleGrant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE custom_role_grants
		SET granted = $2, granted_at = NOW(), granted_by = $3, version = version + 1
		WHERE id = $1 AND deleted_at IS NULL AND version = $4
		RETURNING `+roleGrantColumns,
		id, granted, grantedBy, version)
	updated, err := scanRoleGrant(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RoleGrant{}, ErrConcurrentModification
		}
		return RoleGrant{}, err
	}
	return updated, nil
}

// SoftDeleteRoleGrant revokes a definition-level grant. Idempotent.
func (r *Repository) SoftDeleteRoleGrant(ctx context.Context, customRoleID uuid.UUID, key PermissionKey) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE custom_role_grants
		SET deleted_at = NOW(), version = version + 1
		WHERE custom_role_id = $1 AND permission_key = $2 AND deleted_at IS NULL`,
		customRoleID, key)
	return err
}

func scanRoleGrant(row pgx.Row) (RoleGrant, error) {
	var g RoleGrant
	err := row.Scan(&g.ID, &g.CustomRoleID, &g.Key, &g.Granted, &g.GrantedAt, &g.GrantedBy, &g.DeletedAt, &g.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleGrant{}, ErrNotFound
		}
		return RoleGrant{}, err
	}
	return g, nil
}
