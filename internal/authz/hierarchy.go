package authz

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// maxHierarchyDepth bounds parent-chain walks so corrupt data cannot loop.
const maxHierarchyDepth = 16

// BuiltinRole is a role shipped with the platform. Parent is empty for the
// root role. Defaults is the permission set the role carries before any
// explicit grants are applied.
type BuiltinRole struct {
	Type     RoleType
	Label    string
	Parent   RoleType
	Defaults map[PermissionKey]bool
}

// CustomRoleRepository persists tenant-defined roles.
type CustomRoleRepository interface {
	GetCustomRole(ctx context.Context, tenantID uuid.UUID, roleType RoleType) (CustomRole, error)
	CreateCustomRole(ctx context.Context, role CustomRole) (CustomRole, error)
	ListCustomRoles(ctx context.Context, tenantID uuid.UUID) ([]CustomRole, error)
}

// Hierarchy resolves parent chains across built-in and tenant-defined roles.
// Built-in roles are fixed at construction; custom roles are looked up per
// tenant through the repository.
type Hierarchy struct {
	builtins map[RoleType]BuiltinRole
	order    []RoleType
	repo     CustomRoleRepository
}

// NewHierarchy validates the built-in tree and wires the custom role
// repository. Every built-in parent must itself be a built-in role and the
// tree must be acyclic.
func NewHierarchy(builtins []BuiltinRole, repo CustomRoleRepository) (*Hierarchy, error) {
	h := &Hierarchy{
		builtins: make(map[RoleType]BuiltinRole, len(builtins)),
		repo:     repo,
	}
	for _, role := range builtins {
		if role.Type == "" {
			return nil, errors.New("authz: built-in role requires a type")
		}
		if _, exists := h.builtins[role.Type]; exists {
			return nil, fmt.Errorf("authz: duplicate built-in role %s", role.Type)
		}
		h.builtins[role.Type] = role
		h.order = append(h.order, role.Type)
	}
	for _, role := range builtins {
		seen := map[RoleType]struct{}{role.Type: {}}
		cur := role.Parent
		for cur != "" {
			parent, ok := h.builtins[cur]
			if !ok {
				return nil, fmt.Errorf("authz: built-in role %s references unknown parent %s", role.Type, cur)
			}
			if _, dup := seen[cur]; dup {
				return nil, fmt.Errorf("authz: built-in role %s has a cyclic parent chain", role.Type)
			}
			seen[cur] = struct{}{}
			cur = parent.Parent
		}
	}
	return h, nil
}

// IsBuiltin reports whether the role type is shipped with the platform.
func (h *Hierarchy) IsBuiltin(roleType RoleType) bool {
	_, ok := h.builtins[roleType]
	return ok
}

// Builtin returns the built-in role definition.
func (h *Hierarchy) Builtin(roleType RoleType) (BuiltinRole, bool) {
	role, ok := h.builtins[roleType]
	return role, ok
}

// BuiltinRoles lists the built-in roles in registration order.
func (h *Hierarchy) BuiltinRoles() []BuiltinRole {
	out := make([]BuiltinRole, 0, len(h.order))
	for _, t := range h.order {
		out = append(out, h.builtins[t])
	}
	return out
}

// ListCustomRoles lists the roles a tenant has registered.
func (h *Hierarchy) ListCustomRoles(ctx context.Context, tenantID uuid.UUID) ([]CustomRole, error) {
	if h.repo == nil {
		return nil, nil
	}
	return h.repo.ListCustomRoles(ctx, tenantID)
}

// DefaultsFor returns the default permission set for a built-in role. Custom
// roles carry definition-level grants instead of static defaults.
func (h *Hierarchy) DefaultsFor(roleType RoleType) (map[PermissionKey]bool, bool) {
	role, ok := h.builtins[roleType]
	if !ok {
		return nil, false
	}
	return role.Defaults, true
}

// ResolveParentChain returns the role types from roleType up to the root,
// leaf first. Custom roles are resolved against the tenant.
func (h *Hierarchy) ResolveParentChain(ctx context.Context, roleType RoleType, tenantID uuid.UUID) ([]RoleType, error) {
	chain := make([]RoleType, 0, 4)
	cur := roleType
	for depth := 0; cur != ""; depth++ {
		if depth >= maxHierarchyDepth {
			return nil, fmt.Errorf("%w: chain for %s exceeds depth %d", ErrInvalidParent, roleType, maxHierarchyDepth)
		}
		if builtin, ok := h.builtins[cur]; ok {
			chain = append(chain, cur)
			cur = builtin.Parent
			continue
		}
		if h.repo == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, cur)
		}
		custom, err := h.repo.GetCustomRole(ctx, tenantID, cur)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownRole, cur)
			}
			return nil, err
		}
		chain = append(chain, cur)
		cur = custom.Parent
	}
	return chain, nil
}

// RegisterCustomRoleParams captures a custom role registration request.
type RegisterCustomRoleParams struct {
	Name      string
	Parent    RoleType
	TenantID  uuid.UUID
	CreatedBy uuid.UUID
}

var roleTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// NormalizeRoleType converts a human role name into a role type token.
func NormalizeRoleType(name string) RoleType {
	token := strings.ToUpper(strings.TrimSpace(name))
	token = strings.Join(strings.Fields(token), "_")
	return RoleType(token)
}

var labelCaser = cases.Title(language.English)

// RoleLabel derives a display label from a role type token.
func RoleLabel(roleType RoleType) string {
	return labelCaser.String(strings.ToLower(strings.ReplaceAll(string(roleType), "_", " ")))
}

// RegisterCustomRole registers a tenant-defined role under an existing
// parent. The parent chain is cycle-checked here so resolution never has to.
func (h *Hierarchy) RegisterCustomRole(ctx context.Context, params RegisterCustomRoleParams) (CustomRole, error) {
	if h.repo == nil {
		return CustomRole{}, errors.New("authz: custom role repository not configured")
	}
	token := NormalizeRoleType(params.Name)
	if token == "" || !roleTypePattern.MatchString(string(token)) {
		return CustomRole{}, fmt.Errorf("%w: invalid role name %q", ErrInvalidParent, params.Name)
	}
	if h.IsBuiltin(token) {
		return CustomRole{}, fmt.Errorf("%w: %s is a built-in role", ErrDuplicateRole, token)
	}
	if params.Parent == token {
		return CustomRole{}, fmt.Errorf("%w: role %s cannot be its own parent", ErrInvalidParent, token)
	}
	chain, err := h.ResolveParentChain(ctx, params.Parent, params.TenantID)
	if err != nil {
		if errors.Is(err, ErrUnknownRole) {
			return CustomRole{}, fmt.Errorf("%w: parent %s does not exist", ErrInvalidParent, params.Parent)
		}
		return CustomRole{}, err
	}
	for _, ancestor := range chain {
		if ancestor == token {
			return CustomRole{}, fmt.Errorf("%w: role %s already appears in the parent chain", ErrInvalidParent, token)
		}
	}
	role := CustomRole{
		ID:        uuid.New(),
		TenantID:  params.TenantID,
		RoleType:  token,
		Label:     RoleLabel(token),
		Parent:    params.Parent,
		CreatedBy: params.CreatedBy,
	}
	return h.repo.CreateCustomRole(ctx, role)
}

// DefaultBuiltinRoles returns the role tree the platform ships with. The
// root EMPLOYEE role is the least privileged; each descendant widens the
// default permission set.
func DefaultBuiltinRoles() []BuiltinRole {
	return []BuiltinRole{
		{
			Type:   "EMPLOYEE",
			Label:  "Employee",
			Parent: "",
			Defaults: map[PermissionKey]bool{
				"COURSES.VIEW":      true,
				"TRAININGS.VIEW":    true,
				"CERTIFICATES.VIEW": true,
			},
		},
		{
			Type:   "TRAINER",
			Label:  "Trainer",
			Parent: "EMPLOYEE",
			Defaults: map[PermissionKey]bool{
				"COURSES.CREATE":     true,
				"COURSES.EDIT":       true,
				"COURSES.ASSIGN":     true,
				"TRAININGS.MANAGE":   true,
				"CERTIFICATES.ISSUE": true,
			},
		},
		{
			Type:   "MANAGER",
			Label:  "Manager",
			Parent: "EMPLOYEE",
			Defaults: map[PermissionKey]bool{
				"EMPLOYEES.VIEW": true,
				"EMPLOYEES.EDIT": true,
				"COURSES.ASSIGN": true,
				"REPORTS.VIEW":   true,
				"REPORTS.EXPORT": true,
			},
		},
		{
			Type:   "ADMIN",
			Label:  "Admin",
			Parent: "MANAGER",
			Defaults: map[PermissionKey]bool{
				"EMPLOYEES.CREATE":   true,
				"EMPLOYEES.DELETE":   true,
				"EMPLOYEES.EXPORT":   true,
				"COURSES.CREATE":     true,
				"COURSES.EDIT":       true,
				"COURSES.DELETE":     true,
				"COMPANIES.VIEW":     true,
				"COMPANIES.EDIT":     true,
				"TRAININGS.MANAGE":   true,
				"CERTIFICATES.ISSUE": true,
				"ROLES.VIEW":         true,
				"GRANTS.VIEW":        true,
				"AUDIT.VIEW":         true,
			},
		},
		{
			Type:   "SUPERADMIN",
			Label:  "Superadmin",
			Parent: "ADMIN",
			Defaults: map[PermissionKey]bool{
				"ROLES.MANAGE":   true,
				"GRANTS.MANAGE":  true,
				"TENANTS.VIEW":   true,
				"TENANTS.MANAGE": true,
				"AUDIT.EXPORT":   true,
			},
		},
	}
}
