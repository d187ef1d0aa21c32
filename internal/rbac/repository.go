package rbac

import (
	"context"
	"time"
)

// Repository defines persistence for roles and role assignments. The
// Postgres implementation lives in repo.sql.go; tests substitute memory
// fakes.
type Repository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	DefaultRole(ctx context.Context) (Role, error)
	CreateRole(ctx context.Context, role Role) error
	UpdateRole(ctx context.Context, role Role) error
	DeleteRole(ctx context.Context, id string) error

	// LatestAssignment returns the authoritative assignment for the user,
	// expired or not. ErrNotFound when the user never had one.
	LatestAssignment(ctx context.Context, userID int64) (Assignment, error)
	// ReplaceAssignment makes the given assignment the active one for its
	// user and appends it to the audit history in the same transaction.
	ReplaceAssignment(ctx context.Context, assignment Assignment) error
	// CountActiveAssignments counts users whose authoritative, non-expired
	// assignment references roleID.
	CountActiveAssignments(ctx context.Context, roleID string, now time.Time) (int64, error)

	// UserActive reports the is_active flag of the user, ErrNotFound when
	// the account does not exist.
	UserActive(ctx context.Context, userID int64) (bool, error)
}
