package authz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeRepo is an in-memory stand-in for the pgx repository. It implements
// CustomRoleRepository, ResolverRepository and StoreRepository.
type fakeRepo struct {
	mu          sync.Mutex
	assignments map[uuid.UUID]RoleAssignment
	grants      map[uuid.UUID]Grant
	customRoles map[string]CustomRole
	roleGrants  map[uuid.UUID]RoleGrant

	// failReads makes the next N read calls fail with readErr.
	failReads int
	readErr   error

	now time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		assignments: make(map[uuid.UUID]RoleAssignment),
		grants:      make(map[uuid.UUID]Grant),
		customRoles: make(map[string]CustomRole),
		roleGrants:  make(map[uuid.UUID]RoleGrant),
		now:         time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRepo) tick() time.Time {
	f.now = f.now.Add(time.Minute)
	return f.now
}

func (f *fakeRepo) readFailure() error {
	if f.failReads > 0 {
		f.failReads--
		if f.readErr != nil {
			return f.readErr
		}
		return errors.New("connection reset")
	}
	return nil
}

func customRoleKey(tenantID uuid.UUID, roleType RoleType) string {
	return tenantID.String() + ":" + string(roleType)
}

func (f *fakeRepo) addAssignment(subjectID uuid.UUID, tenantID *uuid.UUID, roleType RoleType) RoleAssignment {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := RoleAssignment{
		ID:        uuid.New(),
		SubjectID: subjectID,
		TenantID:  tenantID,
		RoleType:  roleType,
		IsActive:  true,
		CreatedAt: f.tick(),
		Version:   1,
	}
	f.assignments[a.ID] = a
	return a
}

func (f *fakeRepo) addGrant(assignmentID uuid.UUID, key PermissionKey, granted bool) Grant {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := Grant{
		ID:               uuid.New(),
		RoleAssignmentID: assignmentID,
		Key:              key,
		Granted:          granted,
		GrantedAt:        f.tick(),
		Version:          1,
	}
	f.grants[g.ID] = g
	return g
}

func (f *fakeRepo) addCustomRole(tenantID uuid.UUID, roleType RoleType, parent RoleType) CustomRole {
	f.mu.Lock()
	defer f.mu.Unlock()
	role := CustomRole{
		ID:        uuid.New(),
		TenantID:  tenantID,
		RoleType:  roleType,
		Label:     RoleLabel(roleType),
		Parent:    parent,
		CreatedAt: f.tick(),
	}
	f.customRoles[customRoleKey(tenantID, roleType)] = role
	return role
}

func (f *fakeRepo) addRoleGrant(customRoleID uuid.UUID, key PermissionKey, granted bool) RoleGrant {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := RoleGrant{
		ID:           uuid.New(),
		CustomRoleID: customRoleID,
		Key:          key,
		Granted:      granted,
		GrantedAt:    f.tick(),
		Version:      1,
	}
	f.roleGrants[g.ID] = g
	return g
}

func (f *fakeRepo) ListActiveAssignments(ctx context.Context, subjectID, tenantID uuid.UUID) ([]RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readFailure(); err != nil {
		return nil, err
	}
	var out []RoleAssignment
	for _, a := range f.assignments {
		if a.SubjectID != subjectID || !a.IsActive || a.DeletedAt != nil {
			continue
		}
		if a.TenantID != nil && *a.TenantID != tenantID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeRepo) ListActiveGrants(ctx context.Context, assignmentID uuid.UUID) ([]Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readFailure(); err != nil {
		return nil, err
	}
	var out []Grant
	for _, g := range f.grants {
		if g.RoleAssignmentID == assignmentID && g.DeletedAt == nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetCustomRole(ctx context.Context, tenantID uuid.UUID, roleType RoleType) (CustomRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.customRoles[customRoleKey(tenantID, roleType)]
	if !ok || role.DeletedAt != nil {
		return CustomRole{}, ErrNotFound
	}
	return role, nil
}

func (f *fakeRepo) CreateCustomRole(ctx context.Context, role CustomRole) (CustomRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := customRoleKey(role.TenantID, role.RoleType)
	if _, exists := f.customRoles[key]; exists {
		return CustomRole{}, ErrDuplicateRole
	}
	role.CreatedAt = f.tick()
	f.customRoles[key] = role
	return role, nil
}

func (f *fakeRepo) ListCustomRoles(ctx context.Context, tenantID uuid.UUID) ([]CustomRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []CustomRole
	for _, role := range f.customRoles {
		if role.TenantID == tenantID && role.DeletedAt == nil {
			out = append(out, role)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListActiveRoleGrants(ctx context.Context, customRoleID uuid.UUID) ([]RoleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RoleGrant
	for _, g := range f.roleGrants {
		if g.CustomRoleID == customRoleID && g.DeletedAt == nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetAssignment(ctx context.Context, id uuid.UUID) (RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok {
		return RoleAssignment{}, ErrNotFound
	}
	return a, nil
}

func (f *fakeRepo) CreateAssignment(ctx context.Context, a RoleAssignment) (RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.IsPrimary {
		for id, other := range f.assignments {
			sameTenant := (other.TenantID == nil && a.TenantID == nil) ||
				(other.TenantID != nil && a.TenantID != nil && *other.TenantID == *a.TenantID)
			if other.SubjectID == a.SubjectID && sameTenant && other.IsPrimary && other.DeletedAt == nil {
				other.IsPrimary = false
				other.Version++
				f.assignments[id] = other
			}
		}
	}
	a.IsActive = true
	a.CreatedAt = f.tick()
	a.Version = 1
	f.assignments[a.ID] = a
	return a, nil
}

func (f *fakeRepo) RevokeAssignment(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok || a.DeletedAt != nil {
		return nil
	}
	now := f.tick()
	a.DeletedAt = &now
	a.IsActive = false
	a.Version++
	f.assignments[id] = a
	for gid, g := range f.grants {
		if g.RoleAssignmentID == id && g.DeletedAt == nil {
			g.DeletedAt = &now
			g.Version++
			f.grants[gid] = g
		}
	}
	return nil
}

func (f *fakeRepo) ReactivateAssignment(ctx context.Context, id uuid.UUID) (RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok {
		return RoleAssignment{}, ErrNotFound
	}
	if a.IsPrimary {
		for oid, other := range f.assignments {
			if oid == id {
				continue
			}
			sameTenant := (other.TenantID == nil && a.TenantID == nil) ||
				(other.TenantID != nil && a.TenantID != nil && *other.TenantID == *a.TenantID)
			if other.SubjectID == a.SubjectID && sameTenant && other.IsPrimary && other.DeletedAt == nil {
				a.IsPrimary = false
				break
			}
		}
	}
	a.DeletedAt = nil
	a.IsActive = true
	a.Version++
	f.assignments[id] = a
	return a, nil
}

func (f *fakeRepo) GetActiveGrant(ctx context.Context, assignmentID uuid.UUID, key PermissionKey) (Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.RoleAssignmentID == assignmentID && g.Key == key && g.DeletedAt == nil {
			return g, nil
		}
	}
	return Grant{}, ErrNotFound
}

func (f *fakeRepo) InsertGrant(ctx context.Context, g Grant) (Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.grants {
		if existing.RoleAssignmentID == g.RoleAssignmentID && existing.Key == g.Key && existing.DeletedAt == nil {
			return Grant{}, ErrConcurrentModification
		}
	}
	g.GrantedAt = f.tick()
	g.Version = 1
	f.grants[g.ID] = g
	return g, nil
}

func (f *fakeRepo) UpdateGrant(ctx context.Context, id uuid.UUID, granted bool, grantedBy uuid.UUID, version int64) (Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[id]
	if !ok || g.DeletedAt != nil || g.Version != version {
		return Grant{}, ErrConcurrentModification
	}
	g.Granted = granted
	g.GrantedBy = grantedBy
	g.GrantedAt = f.tick()
	g.Version++
	f.grants[id] = g
	return g, nil
}

func (f *fakeRepo) SoftDeleteGrant(ctx context.Context, assignmentID uuid.UUID, key PermissionKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, g := range f.grants {
		if g.RoleAssignmentID == assignmentID && g.Key == key && g.DeletedAt == nil {
			now := f.tick()
			g.DeletedAt = &now
			g.Version++
			f.grants[id] = g
		}
	}
	return nil
}

func (f *fakeRepo) GetActiveRoleGrant(ctx context.Context, customRoleID uuid.UUID, key PermissionKey) (RoleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.roleGrants {
		if g.CustomRoleID == customRoleID && g.Key == key && g.DeletedAt == nil {
			return g, nil
		}
	}
	return RoleGrant{}, ErrNotFound
}

func (f *fakeRepo) InsertRoleGrant(ctx context.Context, g RoleGrant) (RoleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.roleGrants {
		if existing.CustomRoleID == g.CustomRoleID && existing.Key == g.Key && existing.DeletedAt == nil {
			return RoleGrant{}, ErrConcurrentModification
		}
	}
	g.GrantedAt = f.tick()
	g.Version = 1
	f.roleGrants[g.ID] = g
	return g, nil
}

func (f *fakeRepo) UpdateRoleGrant(ctx context.Context, id uuid.UUID, granted bool, grantedBy uuid.UUID, version int64) (RoleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.roleGrants[id]
	if !ok || g.DeletedAt != nil || g.Version != version {
		return RoleGrant{}, ErrConcurrentModification
	}
	g.Granted = granted
	g.GrantedBy = grantedBy
	g.GrantedAt = f.tick()
	g.Version++
	f.roleGrants[id] = g
	return g, nil
}

func (f *fakeRepo) SoftDeleteRoleGrant(ctx context.Context, customRoleID uuid.UUID, key PermissionKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, g := range f.roleGrants {
		if g.CustomRoleID == customRoleID && g.Key == key && g.DeletedAt == nil {
			now := f.tick()
			g.DeletedAt = &now
			g.Version++
			f.roleGrants[id] = g
		}
	}
	return nil
}

func testHierarchy(t interface{ Fatalf(string, ...any) }, repo CustomRoleRepository) *Hierarchy {
	h, err := NewHierarchy(DefaultBuiltinRoles(), repo)
	if err != nil {
		t.Fatalf("NewHierarchy: %v", err)
	}
	return h
}
