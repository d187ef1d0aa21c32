package auth

import "time"

// User represents an account row as the identity layer sees it.
type User struct {
	ID            int64
	Email         string
	DisplayName   string
	PasswordHash  string
	EmailVerified bool
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
