package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// readRetryBackoff is the pause before the single retry on the read path.
const readRetryBackoff = 100 * time.Millisecond

// ResolverRepository provides the reads the resolver needs.
type ResolverRepository interface {
	ListActiveAssignments(ctx context.Context, subjectID, tenantID uuid.UUID) ([]RoleAssignment, error)
	ListActiveGrants(ctx context.Context, assignmentID uuid.UUID) ([]Grant, error)
	GetCustomRole(ctx context.Context, tenantID uuid.UUID, roleType RoleType) (CustomRole, error)
	ListActiveRoleGrants(ctx context.Context, customRoleID uuid.UUID) ([]RoleGrant, error)
}

// Resolver computes the effective permission set for a subject within a
// tenant. Results are cached per (subject, tenant); concurrent resolves for
// the same pair are collapsed through singleflight.
type Resolver struct {
	repo      ResolverRepository
	hierarchy *Hierarchy
	catalog   *Catalog
	cache     *Cache
	logger    *slog.Logger
	group     singleflight.Group
}

// NewResolver constructs a Resolver. The cache may be nil, in which case
// every call recomputes.
func NewResolver(repo ResolverRepository, hierarchy *Hierarchy, catalog *Catalog, cache *Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, hierarchy: hierarchy, catalog: catalog, cache: cache, logger: logger}
}

// Resolve returns the effective mapping for every catalog key, defaulted to
// false. A subject with no active assignments yields an all-false mapping,
// not an error. Persistence failures are retried once, then surfaced as
// ErrAuthorizationUnavailable so callers fail closed.
func (r *Resolver) Resolve(ctx context.Context, subjectID, tenantID uuid.UUID) (map[PermissionKey]bool, error) {
	flightKey := subjectID.String() + ":" + tenantID.String()
	v, err, _ := r.group.Do(flightKey, func() (interface{}, error) {
		loader := func(ctx context.Context) (map[PermissionKey]bool, error) {
			perms, err := r.resolve(ctx, subjectID, tenantID)
			if err == nil {
				return perms, nil
			}
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrAuthorizationUnavailable, ctx.Err())
			case <-time.After(readRetryBackoff):
			}
			perms, retryErr := r.resolve(ctx, subjectID, tenantID)
			if retryErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrAuthorizationUnavailable, retryErr)
			}
			return perms, nil
		}
		if r.cache != nil {
			return r.cache.Fetch(ctx, subjectID, tenantID, loader)
		}
		return loader(ctx)
	})
	if err != nil {
		return nil, err
	}
	perms, ok := v.(map[PermissionKey]bool)
	if !ok {
		return nil, ErrAuthorizationUnavailable
	}
	return perms, nil
}

// decision tracks the winning grant for a key during the merge. Lower rank
// is more specific: 0 for the assignment's own grants, 1 for its role, then
// one per ancestor toward the root. Ties resolve to the latest grantedAt.
type decision struct {
	granted bool
	rank    int
	at      time.Time
}

func (r *Resolver) resolve(ctx context.Context, subjectID, tenantID uuid.UUID) (map[PermissionKey]bool, error) {
	out := make(map[PermissionKey]bool, r.catalog.Len())
	for _, key := range r.catalog.Keys() {
		out[key] = false
	}

	assignments, err := r.repo.ListActiveAssignments(ctx, subjectID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("authz: list assignments: %w", err)
	}
	if len(assignments) == 0 {
		return out, nil
	}

	best := make(map[PermissionKey]decision)
	consider := func(key PermissionKey, granted bool, rank int, at time.Time) {
		if !r.catalog.IsValidKey(key) {
			return
		}
		cur, ok := best[key]
		if !ok || rank < cur.rank || (rank == cur.rank && at.After(cur.at)) {
			best[key] = decision{granted: granted, rank: rank, at: at}
		}
	}

	for _, assignment := range assignments {
		chain, err := r.hierarchy.ResolveParentChain(ctx, assignment.RoleType, tenantID)
		if err != nil {
			if errors.Is(err, ErrUnknownRole) {
				// Stale role type on a stored assignment contributes nothing.
				r.logger.Warn("skipping assignment with unknown role",
					slog.String("assignment_id", assignment.ID.String()),
					slog.String("role_type", string(assignment.RoleType)))
				continue
			}
			return nil, fmt.Errorf("authz: resolve chain for %s: %w", assignment.RoleType, err)
		}

		// Fold the chain from the leaf out: rank i+1 for chain[i] keeps
		// closer roles more specific, with the assignment's own grants at
		// rank 0 below.
		for i, roleType := range chain {
			rank := i + 1
			if defaults, ok := r.hierarchy.DefaultsFor(roleType); ok {
				for key, granted := range defaults {
					consider(key, granted, rank, time.Time{})
				}
				continue
			}
			custom, err := r.repo.GetCustomRole(ctx, tenantID, roleType)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("authz: load custom role %s: %w", roleType, err)
			}
			roleGrants, err := r.repo.ListActiveRoleGrants(ctx, custom.ID)
			if err != nil {
				return nil, fmt.Errorf("authz: load role grants for %s: %w", roleType, err)
			}
			for _, g := range roleGrants {
				consider(g.Key, g.Granted, rank, g.GrantedAt)
			}
		}

		grants, err := r.repo.ListActiveGrants(ctx, assignment.ID)
		if err != nil {
			return nil, fmt.Errorf("authz: load grants for assignment %s: %w", assignment.ID, err)
		}
		for _, g := range grants {
			consider(g.Key, g.Granted, 0, g.GrantedAt)
		}
	}

	for key, d := range best {
		out[key] = d.granted
	}
	return out, nil
}
