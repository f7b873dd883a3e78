package subjects

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
)

// RepositoryPort defines data access methods for subjects.
type RepositoryPort interface {
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Subject, error)
	Get(ctx context.Context, id uuid.UUID) (Subject, error)
	Create(ctx context.Context, s Subject) (Subject, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) (Subject, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// Service handles subject business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns the tenant's subjects.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]Subject, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// Get fetches a subject.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Subject, error) {
	return s.repo.Get(ctx, id)
}

// CreateParams captures a subject registration.
type CreateParams struct {
	TenantID uuid.UUID
	Email    string
	Name     string
	Password string
}

// Create registers a subject with a hashed credential.
func (s *Service) Create(ctx context.Context, params CreateParams) (Subject, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	name := strings.TrimSpace(params.Name)
	if email == "" || name == "" {
		return Subject{}, fmt.Errorf("subjects: email and name required: %w", httpx.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return Subject{}, fmt.Errorf("subjects: hash password: %w", err)
	}
	return s.repo.Create(ctx, Subject{
		ID:           uuid.New(),
		TenantID:     params.TenantID,
		Email:        email,
		Name:         name,
		Status:       StatusActive,
		PasswordHash: string(hash),
	})
}

// Deactivate blocks the subject from authenticating. Existing tokens lapse
// on their TTL.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (Subject, error) {
	return s.repo.SetStatus(ctx, id, StatusInactive)
}

// Activate restores a deactivated subject.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (Subject, error) {
	return s.repo.SetStatus(ctx, id, StatusActive)
}

// Remove soft-deletes the subject.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	return s.repo.SoftDelete(ctx, id)
}
