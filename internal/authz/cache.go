package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache stores resolved permission mappings in Redis with versioning
// controls. Invalidation bumps a version counter rather than deleting keys,
// so a mutation takes effect synchronously for subsequent resolves while old
// entries age out via TTL.
//
// Three counters guard each entry: one per (subject, tenant), one per
// subject across tenants, and one per tenant across subjects. The subject
// counter lets a mutation on a global role assignment invalidate the subject
// in every tenant; the tenant counter lets a definition-level change on a
// custom role invalidate every subject holding it, without enumerating
// either side.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching and
// every Fetch falls through to the loader.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func scopeVersionKey(subjectID, tenantID uuid.UUID) string {
	return fmt.Sprintf("authz:ver:%s:%s", tenantID, subjectID)
}

func subjectVersionKey(subjectID uuid.UUID) string {
	return fmt.Sprintf("authz:ver:subject:%s", subjectID)
}

func tenantVersionKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("authz:ver:tenant:%s", tenantID)
}

func (c *Cache) version(ctx context.Context, key string) (int64, error) {
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) buildKey(ctx context.Context, subjectID, tenantID uuid.UUID) (string, error) {
	scopeVer, err := c.version(ctx, scopeVersionKey(subjectID, tenantID))
	if err != nil {
		return "", err
	}
	subjectVer, err := c.version(ctx, subjectVersionKey(subjectID))
	if err != nil {
		return "", err
	}
	tenantVer, err := c.version(ctx, tenantVersionKey(tenantID))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("authz:perm:%s:%s:%d:%d:%d", tenantID, subjectID, scopeVer, subjectVer, tenantVer), nil
}

// Fetch loads the cached permission mapping or populates it via the loader.
// Cache transport failures degrade to a direct load; they never fail an
// authorization decision on their own.
func (c *Cache) Fetch(ctx context.Context, subjectID, tenantID uuid.UUID, loader func(context.Context) (map[PermissionKey]bool, error)) (map[PermissionKey]bool, error) {
	if loader == nil {
		return nil, errors.New("authz: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.buildKey(ctx, subjectID, tenantID)
	if err != nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached map[PermissionKey]bool
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(value); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return value, nil
}

// Invalidate bumps the version for the scope, making every cached mapping
// for it stale immediately. A nil tenant invalidates the subject across all
// tenants (global assignment mutations).
func (c *Cache) Invalidate(ctx context.Context, subjectID uuid.UUID, tenantID *uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	if tenantID == nil {
		return c.client.Incr(ctx, subjectVersionKey(subjectID)).Err()
	}
	return c.client.Incr(ctx, scopeVersionKey(subjectID, *tenantID)).Err()
}

// InvalidateTenant bumps the tenant-wide version, staling every subject's
// cached mapping in the tenant. Used after definition-level role changes.
func (c *Cache) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, tenantVersionKey(tenantID)).Err()
}
