package subjects

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

const subjectColumns = "id, tenant_id, email, name, status, password_hash, created_at, updated_at, deleted_at"

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByTenant returns the tenant's subjects.
func (r *Repository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Subject, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+subjectColumns+`
		FROM subjects
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY name`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get fetches a subject by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Subject, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+subjectColumns+`
		FROM subjects
		WHERE id = $1 AND deleted_at IS NULL`,
		id)
	return scanSubject(row)
}

// Create inserts a subject. Emails are unique per tenant.
func (r *Repository) Create(ctx context.Context, s Subject) (Subject, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO subjects (id, tenant_id, email, name, status, password_hash, created_at, updated_at)
		VALUES ($1, $2, lower($3), $4, $5, $6, NOW(), NOW())
		RETURNING `+subjectColumns,
		s.ID, s.TenantID, s.Email, s.Name, s.Status, s.PasswordHash)
	created, err := scanSubject(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Subject{}, fmt.Errorf("subjects: email %s taken: %w", s.Email, httpx.ErrDuplicate)
		}
		return Subject{}, err
	}
	return created, nil
}

// SetStatus updates the subject's status.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status string) (Subject, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE subjects
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+subjectColumns,
		id, status)
	return scanSubject(row)
}

// SoftDelete marks the subject deleted.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE subjects
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		id)
	return err
}

func scanSubject(row pgx.Row) (Subject, error) {
	var s Subject
	err := row.Scan(&s.ID, &s.TenantID, &s.Email, &s.Name, &s.Status, &s.PasswordHash, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subject{}, httpx.ErrNotFound
	}
	if err != nil {
		return Subject{}, err
	}
	return s, nil
}
