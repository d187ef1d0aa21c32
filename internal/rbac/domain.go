package rbac

import "time"

// System role ids. These roles are seeded at startup, never deletable, and
// their permission sets are not editable through the mutation API.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleModerator  = "moderator"
	RoleUser       = "user"
	RoleGuest      = "guest"
)

// Role bundles permissions under a reusable name.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	IsSystem    bool      `json:"isSystem"`
	IsDefault   bool      `json:"isDefault"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasPermission reports whether the role carries the literal id.
func (r Role) HasPermission(id string) bool {
	for _, p := range r.Permissions {
		if p == id {
			return true
		}
	}
	return false
}

// Assignment binds a user to a role. Only the latest assignment per user is
// authoritative; prior ones survive as audit history.
type Assignment struct {
	ID         string     `json:"id"`
	UserID     int64      `json:"userId"`
	RoleID     string     `json:"roleId"`
	AssignedBy string     `json:"assignedBy"`
	AssignedAt time.Time  `json:"assignedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the assignment has lapsed at the given instant.
// A lapsed assignment is treated as absent and the default role applies.
func (a Assignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// Principal is the authenticated identity a guard decision runs for. It is
// resolved by the auth layer, not persisted by this package.
type Principal struct {
	ID            int64
	Email         string
	EmailVerified bool
	// IsAdministrator is the coarse override flag. Authorize treats an
	// administrator as holding the wildcard, so callers only ever go
	// through one decision path.
	IsAdministrator bool
	IsActive        bool
}

// IsSystemRole reports whether id names one of the seeded roles.
func IsSystemRole(id string) bool {
	switch id {
	case RoleSuperAdmin, RoleAdmin, RoleModerator, RoleUser, RoleGuest:
		return true
	}
	return false
}

// AssignedBySystem marks assignments created by the platform itself, e.g.
// the default role handed out at registration.
const AssignedBySystem = "system"
