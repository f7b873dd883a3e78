package tenants

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
)

// RepositoryPort defines data access methods for tenants.
type RepositoryPort interface {
	List(ctx context.Context) ([]Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	Create(ctx context.Context, t Tenant) (Tenant, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (Tenant, error)
}

// Service handles tenant business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Slugify derives a URL-safe slug from a tenant name.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "-")
	return slug
}

// List returns all tenants.
func (s *Service) List(ctx context.Context) ([]Tenant, error) {
	return s.repo.List(ctx)
}

// Get fetches a tenant.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.Get(ctx, id)
}

// Create registers a new tenant. The slug defaults to a normalized form of
// the name.
func (s *Service) Create(ctx context.Context, name, slug string) (Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tenant{}, fmt.Errorf("tenants: name required: %w", httpx.ErrValidation)
	}
	if slug == "" {
		slug = Slugify(name)
	}
	if !slugPattern.MatchString(slug) {
		return Tenant{}, fmt.Errorf("tenants: invalid slug %q: %w", slug, httpx.ErrValidation)
	}
	return s.repo.Create(ctx, Tenant{ID: uuid.New(), Name: name, Slug: slug})
}

// Deactivate suspends the tenant. Resolution for its subjects keeps working;
// suspension is enforced at the application edge.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.SetActive(ctx, id, false)
}

// Activate lifts a suspension.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.SetActive(ctx, id, true)
}
