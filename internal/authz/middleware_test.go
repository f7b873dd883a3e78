package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/meridian-lms/meridian-lms/internal/shared"
)

func middlewareRequest(t *testing.T, mw func(http.Handler) http.Handler, actor *shared.Actor) *httptest.ResponseRecorder {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	return rec
}

func TestRequireAnyAllowsGrantedActor(t *testing.T) {
	repo := newFakeRepo()
	subjectID, tenantID := uuid.New(), uuid.New()
	repo.addAssignment(subjectID, &tenantID, "EMPLOYEE")
	gate, _, _ := newTestGate(t, repo)
	mw := Middleware{Gate: gate}

	actor := &shared.Actor{SubjectID: subjectID, TenantID: tenantID}
	rec := middlewareRequest(t, mw.RequireAny("courses.view"), actor)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (keys are case-normalized)", rec.Code)
	}
}

func TestRequireAnyDeniesMissingPermission(t *testing.T) {
	repo := newFakeRepo()
	subjectID, tenantID := uuid.New(), uuid.New()
	repo.addAssignment(subjectID, &tenantID, "EMPLOYEE")
	gate, _, _ := newTestGate(t, repo)
	mw := Middleware{Gate: gate}

	actor := &shared.Actor{SubjectID: subjectID, TenantID: tenantID}
	rec := middlewareRequest(t, mw.RequireAny("TENANTS.MANAGE"), actor)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestRequireAnyRejectsAnonymous(t *testing.T) {
	gate, _, _ := newTestGate(t, newFakeRepo())
	mw := Middleware{Gate: gate}

	rec := middlewareRequest(t, mw.RequireAny("COURSES.VIEW"), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAllNeedsEveryKey(t *testing.T) {
	repo := newFakeRepo()
	subjectID, tenantID := uuid.New(), uuid.New()
	repo.addAssignment(subjectID, &tenantID, "EMPLOYEE")
	gate, _, _ := newTestGate(t, repo)
	mw := Middleware{Gate: gate}
	actor := &shared.Actor{SubjectID: subjectID, TenantID: tenantID}

	rec := middlewareRequest(t, mw.RequireAll("COURSES.VIEW", "TRAININGS.VIEW"), actor)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	rec = middlewareRequest(t, mw.RequireAll("COURSES.VIEW", "TENANTS.MANAGE"), actor)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestEmptyKeyListPassesThrough(t *testing.T) {
	gate, _, _ := newTestGate(t, newFakeRepo())
	mw := Middleware{Gate: gate}

	rec := middlewareRequest(t, mw.RequireAny(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for an empty key list", rec.Code)
	}
	rec = middlewareRequest(t, mw.RequireAll("", "  "), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for blank keys", rec.Code)
	}
}
