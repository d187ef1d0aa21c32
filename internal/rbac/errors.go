package rbac

import "errors"

// Error taxonomy for registry and assignment mutations. All of these
// propagate to the admin UI; none are swallowed.
var (
	// ErrNotFound indicates the requested role or assignment does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrValidation indicates malformed input such as an unknown permission
	// id or an empty role name.
	ErrValidation = errors.New("rbac: validation failed")
	// ErrImmutableRole indicates an attempt to delete a system role or to
	// edit a system role's permission set.
	ErrImmutableRole = errors.New("rbac: system role is immutable")
	// ErrRoleInUse indicates a delete blocked by an active assignment.
	ErrRoleInUse = errors.New("rbac: role is assigned to active users")
	// ErrDuplicateRole indicates a role name collision.
	ErrDuplicateRole = errors.New("rbac: role name already exists")
	// ErrConfiguration indicates a seeding defect such as a missing default
	// role. Fatal at startup, not recoverable per request.
	ErrConfiguration = errors.New("rbac: configuration invalid")
)
