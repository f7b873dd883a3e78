package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-lms/meridian-lms/internal/auth"
	"github.com/meridian-lms/meridian-lms/internal/shared"
	_ "github.com/meridian-lms/meridian-lms/testing"
)

type stubRepo struct {
	account *auth.Account
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	if s.account == nil || s.account.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.account, nil
}

func newAuthService(t *testing.T, repo auth.Repository) (*auth.Service, *auth.TokenManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tokens := auth.NewTokenManager(client, time.Hour)
	return auth.NewService(repo, tokens), tokens
}

func handlerServe(h *auth.Handler, res http.ResponseWriter, req *http.Request) {
	r := chi.NewRouter()
	r.Route("/auth", h.MountRoutes)
	r.ServeHTTP(res, req)
}

func activeAccount(t *testing.T, email, password string) *auth.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return &auth.Account{
		SubjectID:    uuid.New(),
		TenantID:     uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
	}
}

func TestIssueToken(t *testing.T) {
	account := activeAccount(t, "admin@acme.test", "s3cretpass")
	service, _ := newAuthService(t, &stubRepo{account: account})
	handler := auth.NewHandler(nil, service)

	body := strings.NewReader(`{"email":"admin@acme.test","password":"s3cretpass"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/token", body)
	res := httptest.NewRecorder()
	handlerServe(handler, res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", res.Code, res.Body.String())
	}
	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Token == "" {
		t.Fatalf("expected a token value")
	}
	if !payload.ExpiresAt.After(time.Now()) {
		t.Fatalf("token already expired: %v", payload.ExpiresAt)
	}

	actor, err := service.Verify(context.Background(), payload.Token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if actor.SubjectID != account.SubjectID || actor.TenantID != account.TenantID {
		t.Fatalf("actor mismatch: %+v", actor)
	}
}

func TestIssueTokenInvalidCredentials(t *testing.T) {
	account := activeAccount(t, "admin@acme.test", "s3cretpass")
	service, _ := newAuthService(t, &stubRepo{account: account})
	handler := auth.NewHandler(nil, service)

	cases := []string{
		`{"email":"admin@acme.test","password":"wrongpassword"}`,
		`{"email":"nobody@acme.test","password":"s3cretpass"}`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(body))
		res := httptest.NewRecorder()
		handlerServe(handler, res, req)
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", body, res.Code)
		}
	}
}

func TestIssueTokenInactiveAccount(t *testing.T) {
	account := activeAccount(t, "admin@acme.test", "s3cretpass")
	account.IsActive = false
	service, _ := newAuthService(t, &stubRepo{account: account})

	if _, err := service.Authenticate(context.Background(), "admin@acme.test", "s3cretpass"); err != shared.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestIssueTokenValidation(t *testing.T) {
	service, _ := newAuthService(t, &stubRepo{})
	handler := auth.NewHandler(nil, service)

	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"email":"not-an-email","password":"short"}`))
	res := httptest.NewRecorder()
	handlerServe(handler, res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	account := activeAccount(t, "admin@acme.test", "s3cretpass")
	service, _ := newAuthService(t, &stubRepo{account: account})
	handler := auth.NewHandler(nil, service)

	token, err := service.Authenticate(context.Background(), "admin@acme.test", "s3cretpass")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token.Value)
	res := httptest.NewRecorder()
	handlerServe(handler, res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}

	if _, err := service.Verify(context.Background(), token.Value); err != shared.ErrTokenExpired {
		t.Fatalf("expected revoked token to fail verification, got %v", err)
	}
}

func TestTokenExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tokens := auth.NewTokenManager(client, time.Minute)

	token, err := tokens.Issue(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := tokens.Verify(context.Background(), token.Value); err != nil {
		t.Fatalf("verify fresh token: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := tokens.Verify(context.Background(), token.Value); err != shared.ErrTokenExpired {
		t.Fatalf("expected expiry, got %v", err)
	}
}
