package authz

import (
	"fmt"
	"sort"
	"strings"
)

// CatalogEntry describes a single permission: the resource it protects, the
// action it allows and an operator-facing description.
type CatalogEntry struct {
	Resource    string
	Action      string
	Description string
}

// Key returns the permission key for the entry.
func (e CatalogEntry) Key() PermissionKey {
	return Key(e.Resource, e.Action)
}

// Key composes a permission key from a resource and an action.
func Key(resource, action string) PermissionKey {
	return PermissionKey(strings.ToUpper(strings.TrimSpace(resource)) + "." + strings.ToUpper(strings.TrimSpace(action)))
}

// Catalog is the single source of truth for valid permission keys. It is
// built once at process start and read-only afterwards; changing the catalog
// requires a new deployment.
type Catalog struct {
	entries    map[PermissionKey]CatalogEntry
	byResource map[string][]PermissionKey
	keys       []PermissionKey
}

// NewCatalog validates and indexes the provided entries.
func NewCatalog(entries []CatalogEntry) (*Catalog, error) {
	c := &Catalog{
		entries:    make(map[PermissionKey]CatalogEntry, len(entries)),
		byResource: make(map[string][]PermissionKey),
	}
	for _, e := range entries {
		resource := strings.ToUpper(strings.TrimSpace(e.Resource))
		action := strings.ToUpper(strings.TrimSpace(e.Action))
		if resource == "" || action == "" {
			return nil, fmt.Errorf("authz: catalog entry requires resource and action, got %q/%q", e.Resource, e.Action)
		}
		key := Key(resource, action)
		if _, exists := c.entries[key]; exists {
			return nil, fmt.Errorf("authz: duplicate catalog key %s", key)
		}
		e.Resource = resource
		e.Action = action
		c.entries[key] = e
		c.byResource[resource] = append(c.byResource[resource], key)
		c.keys = append(c.keys, key)
	}
	sort.Slice(c.keys, func(i, j int) bool { return c.keys[i] < c.keys[j] })
	for _, keys := range c.byResource {
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	}
	return c, nil
}

// IsValidKey reports whether the key exists in the catalog.
func (c *Catalog) IsValidKey(key PermissionKey) bool {
	if c == nil {
		return false
	}
	_, ok := c.entries[key]
	return ok
}

// Entry returns the catalog entry for a key.
func (c *Catalog) Entry(key PermissionKey) (CatalogEntry, bool) {
	if c == nil {
		return CatalogEntry{}, false
	}
	e, ok := c.entries[key]
	return e, ok
}

// PermissionsForResource lists every key registered for the resource.
func (c *Catalog) PermissionsForResource(resource string) []PermissionKey {
	if c == nil {
		return nil
	}
	keys := c.byResource[strings.ToUpper(strings.TrimSpace(resource))]
	out := make([]PermissionKey, len(keys))
	copy(out, keys)
	return out
}

// Keys returns every permission key in the catalog, sorted.
func (c *Catalog) Keys() []PermissionKey {
	if c == nil {
		return nil
	}
	out := make([]PermissionKey, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// DefaultCatalog enumerates the permissions the platform ships with.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog([]CatalogEntry{
		{Resource: "EMPLOYEES", Action: "VIEW", Description: "View employee records"},
		{Resource: "EMPLOYEES", Action: "CREATE", Description: "Create employee records"},
		{Resource: "EMPLOYEES", Action: "EDIT", Description: "Edit employee records"},
		{Resource: "EMPLOYEES", Action: "DELETE", Description: "Delete employee records"},
		{Resource: "EMPLOYEES", Action: "EXPORT", Description: "Export employee data"},
		{Resource: "COURSES", Action: "VIEW", Description: "View courses"},
		{Resource: "COURSES", Action: "CREATE", Description: "Create courses"},
		{Resource: "COURSES", Action: "EDIT", Description: "Edit courses"},
		{Resource: "COURSES", Action: "DELETE", Description: "Delete courses"},
		{Resource: "COURSES", Action: "ASSIGN", Description: "Assign courses to employees"},
		{Resource: "COMPANIES", Action: "VIEW", Description: "View company records"},
		{Resource: "COMPANIES", Action: "EDIT", Description: "Edit company records"},
		{Resource: "TRAININGS", Action: "VIEW", Description: "View training sessions"},
		{Resource: "TRAININGS", Action: "MANAGE", Description: "Manage training sessions"},
		{Resource: "CERTIFICATES", Action: "VIEW", Description: "View certificates"},
		{Resource: "CERTIFICATES", Action: "ISSUE", Description: "Issue certificates"},
		{Resource: "REPORTS", Action: "VIEW", Description: "View compliance reports"},
		{Resource: "REPORTS", Action: "EXPORT", Description: "Export compliance reports"},
		{Resource: "ROLES", Action: "VIEW", Description: "View roles"},
		{Resource: "ROLES", Action: "MANAGE", Description: "Register and manage roles"},
		{Resource: "GRANTS", Action: "VIEW", Description: "View permission grants"},
		{Resource: "GRANTS", Action: "MANAGE", Description: "Grant and revoke permissions"},
		{Resource: "TENANTS", Action: "VIEW", Description: "View tenants"},
		{Resource: "TENANTS", Action: "MANAGE", Description: "Create and deactivate tenants"},
		{Resource: "AUDIT", Action: "VIEW", Description: "View the audit timeline"},
		{Resource: "AUDIT", Action: "EXPORT", Description: "Export audit data"},
	})
	if err != nil {
		panic(err)
	}
	return catalog
}
