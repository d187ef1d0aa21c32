package rbac

// Decision is the outcome of an authorization check. Absence of permission
// is a value, never an error, so every check stays a total function.
type Decision int

const (
	// Deny blocks the requested capability.
	Deny Decision = iota
	// Allow grants the requested capability.
	Allow
)

// String implements fmt.Stringer for log output.
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// PermissionSet is a resolved set of permission ids for one principal.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from raw ids, dropping duplicates.
func NewPermissionSet(ids ...string) PermissionSet {
	set := make(PermissionSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Contains reports membership of the literal id.
func (s PermissionSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the member ids in unspecified order.
func (s PermissionSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Authorize decides whether a resolved permission set grants the required
// permission. The rules, in order:
//
//  1. the wildcard "*" grants everything (super administrators only)
//  2. a verbatim match grants the permission
//  3. "resource:manage" grants every action on that resource
//
// Everything else is Deny. Malformed required ids can never match a catalog
// id, so they fall through to Deny rather than erroring.
func Authorize(resolved PermissionSet, required string) Decision {
	if resolved.Contains(Wildcard) {
		return Allow
	}
	if resolved.Contains(required) {
		return Allow
	}
	pid, err := ParsePermission(required)
	if err != nil {
		return Deny
	}
	if pid.Action != ActionManage && resolved.Contains(pid.Manage()) {
		return Allow
	}
	return Deny
}
