package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens *TokenManager
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenManager) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// Authenticate validates email/password credentials and issues a token. The
// caller cannot distinguish an unknown email from a wrong password or an
// inactive account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Token, error) {
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return Token{}, shared.ErrInvalidCredentials
	}
	if !account.IsActive {
		return Token{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Token{}, shared.ErrInvalidCredentials
	}
	return s.tokens.Issue(ctx, account.SubjectID, account.TenantID)
}

// Verify resolves a bearer token to an actor.
func (s *Service) Verify(ctx context.Context, token string) (shared.Actor, error) {
	return s.tokens.Verify(ctx, token)
}

// Logout revokes the token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}
