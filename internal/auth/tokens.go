package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-lms/meridian-lms/internal/shared"
)

const tokenBytes = 32

// TokenManager issues and verifies opaque bearer tokens backed by Redis.
// Tokens expire via TTL; revocation deletes the key.
type TokenManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenManager constructs a TokenManager.
func NewTokenManager(client *redis.Client, ttl time.Duration) *TokenManager {
	return &TokenManager{client: client, ttl: ttl}
}

func tokenKey(value string) string {
	return "auth:token:" + value
}

// Issue creates a token for the subject and stores it with the configured TTL.
func (m *TokenManager) Issue(ctx context.Context, subjectID, tenantID uuid.UUID) (Token, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return Token{}, fmt.Errorf("auth: generate token: %w", err)
	}
	value := hex.EncodeToString(buf)
	now := time.Now().UTC()
	payload := subjectID.String() + ":" + tenantID.String()
	if err := m.client.Set(ctx, tokenKey(value), payload, m.ttl).Err(); err != nil {
		return Token{}, fmt.Errorf("auth: store token: %w", err)
	}
	return Token{
		Value:     value,
		SubjectID: subjectID,
		TenantID:  tenantID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}, nil
}

// Verify resolves a token value to the actor it was issued for.
func (m *TokenManager) Verify(ctx context.Context, value string) (shared.Actor, error) {
	if value == "" {
		return shared.Actor{}, shared.ErrTokenExpired
	}
	payload, err := m.client.Get(ctx, tokenKey(value)).Result()
	if errors.Is(err, redis.Nil) {
		return shared.Actor{}, shared.ErrTokenExpired
	}
	if err != nil {
		return shared.Actor{}, fmt.Errorf("auth: verify token: %w", err)
	}
	subjectRaw, tenantRaw, ok := strings.Cut(payload, ":")
	if !ok {
		return shared.Actor{}, shared.ErrTokenExpired
	}
	subjectID, err := uuid.Parse(subjectRaw)
	if err != nil {
		return shared.Actor{}, shared.ErrTokenExpired
	}
	tenantID, err := uuid.Parse(tenantRaw)
	if err != nil {
		return shared.Actor{}, shared.ErrTokenExpired
	}
	return shared.Actor{SubjectID: subjectID, TenantID: tenantID}, nil
}

// Revoke deletes the token. Revoking an unknown token is not an error.
func (m *TokenManager) Revoke(ctx context.Context, value string) error {
	return m.client.Del(ctx, tokenKey(value)).Err()
}
