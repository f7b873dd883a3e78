package tenants_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/tenants"
	_ "github.com/meridian-lms/meridian-lms/testing"
)

type stubRepo struct {
	byID   map[uuid.UUID]tenants.Tenant
	bySlug map[string]uuid.UUID
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		byID:   make(map[uuid.UUID]tenants.Tenant),
		bySlug: make(map[string]uuid.UUID),
	}
}

func (s *stubRepo) List(ctx context.Context) ([]tenants.Tenant, error) {
	out := make([]tenants.Tenant, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	return out, nil
}

func (s *stubRepo) Get(ctx context.Context, id uuid.UUID) (tenants.Tenant, error) {
	t, ok := s.byID[id]
	if !ok {
		return tenants.Tenant{}, httpx.ErrNotFound
	}
	return t, nil
}

func (s *stubRepo) Create(ctx context.Context, t tenants.Tenant) (tenants.Tenant, error) {
	if _, exists := s.bySlug[t.Slug]; exists {
		return tenants.Tenant{}, httpx.ErrDuplicate
	}
	t.IsActive = true
	s.byID[t.ID] = t
	s.bySlug[t.Slug] = t.ID
	return t, nil
}

func (s *stubRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) (tenants.Tenant, error) {
	t, ok := s.byID[id]
	if !ok {
		return tenants.Tenant{}, httpx.ErrNotFound
	}
	t.IsActive = active
	s.byID[id] = t
	return t, nil
}

func TestCreateTenantSlugDefaultsFromName(t *testing.T) {
	service := tenants.NewService(newStubRepo())

	created, err := service.Create(context.Background(), "  Acme  Corp ", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Slug != "acme-corp" {
		t.Fatalf("slug = %q, want acme-corp", created.Slug)
	}
	if created.Name != "Acme  Corp" {
		t.Fatalf("name = %q", created.Name)
	}
}

func TestCreateTenantValidation(t *testing.T) {
	service := tenants.NewService(newStubRepo())

	if _, err := service.Create(context.Background(), "   ", ""); !errors.Is(err, httpx.ErrValidation) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	if _, err := service.Create(context.Background(), "Acme", "Bad Slug!"); !errors.Is(err, httpx.ErrValidation) {
		t.Fatalf("expected validation error for bad slug, got %v", err)
	}
}

func TestCreateTenantDuplicateSlug(t *testing.T) {
	service := tenants.NewService(newStubRepo())

	if _, err := service.Create(context.Background(), "Acme", "acme"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := service.Create(context.Background(), "Acme Two", "acme"); !errors.Is(err, httpx.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestDeactivateAndActivate(t *testing.T) {
	repo := newStubRepo()
	service := tenants.NewService(repo)

	created, err := service.Create(context.Background(), "Acme", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	suspended, err := service.Deactivate(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if suspended.IsActive {
		t.Fatalf("tenant still active after deactivation")
	}
	restored, err := service.Activate(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !restored.IsActive {
		t.Fatalf("tenant not active after activation")
	}

	if _, err := service.Deactivate(context.Background(), uuid.New()); !errors.Is(err, httpx.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
