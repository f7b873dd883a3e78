package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheFetchPopulatesAndServes(t *testing.T) {
	cache, _ := newTestCache(t)
	subjectID, tenantID := uuid.New(), uuid.New()
	calls := 0
	loader := func(ctx context.Context) (map[PermissionKey]bool, error) {
		calls++
		return map[PermissionKey]bool{"COURSES.VIEW": true, "REPORTS.VIEW": false}, nil
	}

	for range 3 {
		perms, err := cache.Fetch(context.Background(), subjectID, tenantID, loader)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if !perms["COURSES.VIEW"] || perms["REPORTS.VIEW"] {
			t.Fatalf("unexpected mapping: %v", perms)
		}
	}
	if calls != 1 {
		t.Fatalf("loader ran %d times, want 1", calls)
	}
}

func TestCacheInvalidateScope(t *testing.T) {
	cache, _ := newTestCache(t)
	subjectID, tenantID := uuid.New(), uuid.New()
	calls := 0
	loader := func(ctx context.Context) (map[PermissionKey]bool, error) {
		calls++
		return map[PermissionKey]bool{}, nil
	}

	if _, err := cache.Fetch(context.Background(), subjectID, tenantID, loader); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := cache.Invalidate(context.Background(), subjectID, &tenantID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := cache.Fetch(context.Background(), subjectID, tenantID, loader); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls != 2 {
		t.Fatalf("invalidation did not force a reload, loader ran %d times", calls)
	}
}

func TestCacheInvalidateSubjectCoversAllTenants(t *testing.T) {
	cache, _ := newTestCache(t)
	subjectID := uuid.New()
	tenantA, tenantB := uuid.New(), uuid.New()
	calls := 0
	loader := func(ctx context.Context) (map[PermissionKey]bool, error) {
		calls++
		return map[PermissionKey]bool{}, nil
	}

	_, _ = cache.Fetch(context.Background(), subjectID, tenantA, loader)
	_, _ = cache.Fetch(context.Background(), subjectID, tenantB, loader)
	if calls != 2 {
		t.Fatalf("setup: loader ran %d times", calls)
	}

	// Global assignment mutation: nil tenant invalidates every scope.
	if err := cache.Invalidate(context.Background(), subjectID, nil); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	_, _ = cache.Fetch(context.Background(), subjectID, tenantA, loader)
	_, _ = cache.Fetch(context.Background(), subjectID, tenantB, loader)
	if calls != 4 {
		t.Fatalf("subject-wide invalidation missed a tenant, loader ran %d times", calls)
	}
}

func TestCacheInvalidateTenantCoversAllSubjects(t *testing.T) {
	cache, _ := newTestCache(t)
	tenantID := uuid.New()
	subjectA, subjectB := uuid.New(), uuid.New()
	calls := 0
	loader := func(ctx context.Context) (map[PermissionKey]bool, error) {
		calls++
		return map[PermissionKey]bool{}, nil
	}

	_, _ = cache.Fetch(context.Background(), subjectA, tenantID, loader)
	_, _ = cache.Fetch(context.Background(), subjectB, tenantID, loader)

	if err := cache.InvalidateTenant(context.Background(), tenantID); err != nil {
		t.Fatalf("InvalidateTenant: %v", err)
	}
	_, _ = cache.Fetch(context.Background(), subjectA, tenantID, loader)
	_, _ = cache.Fetch(context.Background(), subjectB, tenantID, loader)
	if calls != 4 {
		t.Fatalf("tenant-wide invalidation missed a subject, loader ran %d times", calls)
	}
}

func TestCacheDegradesWhenRedisDown(t *testing.T) {
	cache, mr := newTestCache(t)
	subjectID, tenantID := uuid.New(), uuid.New()
	mr.Close()

	perms, err := cache.Fetch(context.Background(), subjectID, tenantID, func(ctx context.Context) (map[PermissionKey]bool, error) {
		return map[PermissionKey]bool{"COURSES.VIEW": true}, nil
	})
	if err != nil {
		t.Fatalf("cache outage must degrade to a direct load: %v", err)
	}
	if !perms["COURSES.VIEW"] {
		t.Fatalf("loader result lost: %v", perms)
	}
}

func TestCacheLoaderErrorPropagates(t *testing.T) {
	cache, _ := newTestCache(t)
	wantErr := errors.New("db down")

	_, err := cache.Fetch(context.Background(), uuid.New(), uuid.New(), func(ctx context.Context) (map[PermissionKey]bool, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected loader error, got %v", err)
	}
}

func TestCacheNilClientPassesThrough(t *testing.T) {
	cache := NewCache(nil, time.Minute)
	calls := 0
	for range 2 {
		if _, err := cache.Fetch(context.Background(), uuid.New(), uuid.New(), func(ctx context.Context) (map[PermissionKey]bool, error) {
			calls++
			return map[PermissionKey]bool{}, nil
		}); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("nil client must always hit the loader, ran %d times", calls)
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	cache, mr := newTestCache(t)
	subjectID, tenantID := uuid.New(), uuid.New()
	calls := 0
	loader := func(ctx context.Context) (map[PermissionKey]bool, error) {
		calls++
		return map[PermissionKey]bool{}, nil
	}

	_, _ = cache.Fetch(context.Background(), subjectID, tenantID, loader)
	mr.FastForward(2 * time.Minute)
	_, _ = cache.Fetch(context.Background(), subjectID, tenantID, loader)
	if calls != 2 {
		t.Fatalf("expired entry served from cache, loader ran %d times", calls)
	}
}
