package users

import "time"

// User is the directory view of an account, including the denormalised
// active role the admin console displays next to each row.
type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	EmailVerified bool      `json:"emailVerified"`
	IsActive      bool      `json:"isActive"`
	RoleID        string    `json:"roleId"`
	RoleName      string    `json:"roleName"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ListQuery narrows a directory listing.
type ListQuery struct {
	Page    int
	PerPage int
	Search  string
	RoleID  string
}
