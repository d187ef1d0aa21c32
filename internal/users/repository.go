package users

import "context"

// Repository defines data access for the user directory.
type Repository interface {
	ListUsers(ctx context.Context, q ListQuery) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (User, error)
	SetActive(ctx context.Context, id int64, active bool) error
}
