package auth

import (
	"time"

	"github.com/google/uuid"
)

// Account is the credential view of a subject used during authentication.
type Account struct {
	SubjectID    uuid.UUID
	TenantID     uuid.UUID
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Token is an issued bearer token.
type Token struct {
	Value     string
	SubjectID uuid.UUID
	TenantID  uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}
