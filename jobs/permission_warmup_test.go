package jobs

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/meridian-lms/meridian-lms/internal/authz"
	_ "github.com/meridian-lms/meridian-lms/testing"
)

type stubScopeLister struct {
	scopes []authz.SubjectScope
	err    error
}

func (s *stubScopeLister) ListSubjectScopes(ctx context.Context) ([]authz.SubjectScope, error) {
	return s.scopes, s.err
}

// warmupRepo records which (subject, tenant) pairs the resolver loaded.
type warmupRepo struct {
	mu       sync.Mutex
	resolved []uuid.UUID
}

func (r *warmupRepo) ListActiveAssignments(ctx context.Context, subjectID, tenantID uuid.UUID) ([]authz.RoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, tenantID)
	return nil, nil
}

func (r *warmupRepo) ListActiveGrants(ctx context.Context, assignmentID uuid.UUID) ([]authz.Grant, error) {
	return nil, nil
}

func (r *warmupRepo) GetCustomRole(ctx context.Context, tenantID uuid.UUID, roleType authz.RoleType) (authz.CustomRole, error) {
	return authz.CustomRole{}, authz.ErrNotFound
}

func (r *warmupRepo) ListActiveRoleGrants(ctx context.Context, customRoleID uuid.UUID) ([]authz.RoleGrant, error) {
	return nil, nil
}

func newWarmupJob(t *testing.T, scopes *stubScopeLister, repo *warmupRepo) *PermissionWarmupJob {
	t.Helper()
	hierarchy, err := authz.NewHierarchy(authz.DefaultBuiltinRoles(), nil)
	if err != nil {
		t.Fatalf("NewHierarchy: %v", err)
	}
	resolver := authz.NewResolver(repo, hierarchy, authz.DefaultCatalog(), nil, nil)
	return NewPermissionWarmupJob(scopes, resolver, nil, nil)
}

func TestPermissionWarmupSkipsTenantlessScopes(t *testing.T) {
	subjectID, tenantID := uuid.New(), uuid.New()
	scopes := &stubScopeLister{scopes: []authz.SubjectScope{
		{SubjectID: subjectID},
		{SubjectID: subjectID, TenantID: &tenantID},
	}}
	repo := &warmupRepo{}
	job := newWarmupJob(t, scopes, repo)

	task, err := NewPermissionWarmupTask(PermissionWarmupPayload{})
	if err != nil {
		t.Fatalf("NewPermissionWarmupTask: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(repo.resolved) != 1 {
		t.Fatalf("expected exactly one resolved scope, got %d", len(repo.resolved))
	}
	if repo.resolved[0] != tenantID {
		t.Fatalf("resolved unexpected tenant %s, want %s", repo.resolved[0], tenantID)
	}
}

func TestPermissionWarmupHonorsLimit(t *testing.T) {
	subjectID := uuid.New()
	first, second := uuid.New(), uuid.New()
	scopes := &stubScopeLister{scopes: []authz.SubjectScope{
		{SubjectID: subjectID, TenantID: &first},
		{SubjectID: subjectID, TenantID: &second},
	}}
	repo := &warmupRepo{}
	job := newWarmupJob(t, scopes, repo)

	task, err := NewPermissionWarmupTask(PermissionWarmupPayload{Limit: 1})
	if err != nil {
		t.Fatalf("NewPermissionWarmupTask: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(repo.resolved) != 1 {
		t.Fatalf("limit ignored: resolved %d scopes", len(repo.resolved))
	}
}
