package tenants

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
)

const tenantColumns = "id, name, slug, is_active, created_at, updated_at, deleted_at"

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns all tenants that are not soft-deleted.
func (r *Repository) List(ctx context.Context) ([]Tenant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE deleted_at IS NULL
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get fetches a tenant by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE id = $1 AND deleted_at IS NULL`,
		id)
	return scanTenant(row)
}

// Create inserts a tenant. Slug collisions surface as ErrDuplicate via the
// unique index.
func (r *Repository) Create(ctx context.Context, t Tenant) (Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tenants (id, name, slug, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		RETURNING `+tenantColumns,
		t.ID, t.Name, t.Slug)
	created, err := scanTenant(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Tenant{}, fmt.Errorf("tenants: slug %s taken: %w", t.Slug, httpx.ErrDuplicate)
		}
		return Tenant{}, err
	}
	return created, nil
}

// SetActive toggles the tenant's active flag.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) (Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tenants
		SET is_active = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+tenantColumns,
		id, active)
	return scanTenant(row)
}

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.IsActive, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, httpx.ErrNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}
