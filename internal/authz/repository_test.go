package authz

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapAssignmentInsertError(t *testing.T) {
	primaryRace := &pgconn.PgError{Code: "23505", ConstraintName: assignmentPrimaryConstraint}
	if err := mapAssignmentInsertError(primaryRace, "MANAGER"); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("primary-index violation should surface as a concurrency conflict, got %v", err)
	}

	duplicateRole := &pgconn.PgError{Code: "23505", ConstraintName: assignmentRoleConstraint}
	if err := mapAssignmentInsertError(duplicateRole, "MANAGER"); !errors.Is(err, ErrDuplicateRole) {
		t.Fatalf("role-index violation should surface as a duplicate role, got %v", err)
	}

	plain := errors.New("connection reset")
	if err := mapAssignmentInsertError(plain, "MANAGER"); !errors.Is(err, plain) {
		t.Fatalf("non-unique errors must pass through unchanged, got %v", err)
	}
}
