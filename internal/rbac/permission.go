package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Wildcard grants every permission. It is reserved for the super_admin role
// and must never appear in the catalog or in a custom role.
const Wildcard = "*"

// Category groups permissions by the resource family they guard.
type Category string

// Known permission categories.
const (
	CategoryUsers     Category = "users"
	CategoryTodos     Category = "todos"
	CategorySystem    Category = "system"
	CategoryAnalytics Category = "analytics"
	CategorySettings  Category = "settings"
)

// Action is the operation half of a permission id.
type Action string

// Known permission actions. ActionManage subsumes the other four for its
// resource; that implication lives in Authorize, not in storage.
const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

// ErrMalformedPermission indicates an id that is not "resource:action".
var ErrMalformedPermission = errors.New("rbac: malformed permission id")

// PermissionID is a parsed "resource:action" pair. It is the only place the
// string convention is split; everything else passes PermissionID around or
// compares raw ids against a resolved set.
type PermissionID struct {
	Resource string
	Action   Action
}

// ParsePermission validates and splits a raw permission id.
func ParsePermission(id string) (PermissionID, error) {
	resource, action, ok := strings.Cut(id, ":")
	if !ok || resource == "" || action == "" {
		return PermissionID{}, fmt.Errorf("%w: %q", ErrMalformedPermission, id)
	}
	return PermissionID{Resource: resource, Action: Action(action)}, nil
}

// String reassembles the canonical id.
func (p PermissionID) String() string {
	return p.Resource + ":" + string(p.Action)
}

// Manage returns the manage permission id for the same resource.
func (p PermissionID) Manage() string {
	return p.Resource + ":" + string(ActionManage)
}

// Permission describes one catalog entry.
type Permission struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Action      Action   `json:"action"`
}
