package rbac

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Permission ids known to the system. The catalog is fixed at build time;
// extending it is a deployment, not a runtime operation.
const (
	PermUsersRead   = "users:read"
	PermUsersCreate = "users:create"
	PermUsersUpdate = "users:update"
	PermUsersDelete = "users:delete"
	PermUsersManage = "users:manage"

	PermTodosRead   = "todos:read"
	PermTodosCreate = "todos:create"
	PermTodosUpdate = "todos:update"
	PermTodosDelete = "todos:delete"
	PermTodosManage = "todos:manage"

	PermAnalyticsRead   = "analytics:read"
	PermAnalyticsManage = "analytics:manage"

	PermSystemRead   = "system:read"
	PermSystemManage = "system:manage"

	PermSettingsRead   = "settings:read"
	PermSettingsUpdate = "settings:update"
)

// Catalog is the static, read-only set of grantable permissions.
type Catalog struct {
	ordered []Permission
	byID    map[string]Permission
}

type catalogEntry struct {
	id          string
	category    Category
	description string
}

var catalogSeed = []catalogEntry{
	{PermUsersRead, CategoryUsers, "View the user directory"},
	{PermUsersCreate, CategoryUsers, "Create new user accounts"},
	{PermUsersUpdate, CategoryUsers, "Edit user account details"},
	{PermUsersDelete, CategoryUsers, "Remove users from the system"},
	{PermUsersManage, CategoryUsers, "Full control over user accounts"},

	{PermTodosRead, CategoryTodos, "View tasks"},
	{PermTodosCreate, CategoryTodos, "Create tasks"},
	{PermTodosUpdate, CategoryTodos, "Edit tasks"},
	{PermTodosDelete, CategoryTodos, "Delete tasks"},
	{PermTodosManage, CategoryTodos, "Full control over every task"},

	{PermAnalyticsRead, CategoryAnalytics, "View statistics and reports"},
	{PermAnalyticsManage, CategoryAnalytics, "Full control over analytics"},

	{PermSystemRead, CategorySystem, "View system status"},
	{PermSystemManage, CategorySystem, "Full control over system operations"},

	{PermSettingsRead, CategorySettings, "View system settings"},
	{PermSettingsUpdate, CategorySettings, "Edit system settings"},
}

// NewCatalog builds the static catalog. Display names are derived from the
// id so the catalog seed stays a single list of ids and descriptions.
func NewCatalog() *Catalog {
	titler := cases.Title(language.English)
	c := &Catalog{byID: make(map[string]Permission, len(catalogSeed))}
	for _, entry := range catalogSeed {
		pid, err := ParsePermission(entry.id)
		if err != nil {
			// catalogSeed is compile-time data; a malformed entry is a bug.
			panic(err)
		}
		perm := Permission{
			ID:          entry.id,
			DisplayName: titler.String(string(pid.Action)) + " " + titler.String(pid.Resource),
			Description: entry.description,
			Category:    entry.category,
			Action:      pid.Action,
		}
		c.ordered = append(c.ordered, perm)
		c.byID[perm.ID] = perm
	}
	return c
}

// ListAll returns every permission in seed order.
func (c *Catalog) ListAll() []Permission {
	out := make([]Permission, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Exists reports whether id names a catalog permission.
func (c *Catalog) Exists(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Get returns the permission for id. Absence is reported via the bool, not
// an error; callers must check before using the id.
func (c *Catalog) Get(id string) (Permission, bool) {
	perm, ok := c.byID[id]
	return perm, ok
}

// ByCategory returns the permissions of one category in seed order.
func (c *Catalog) ByCategory(category Category) []Permission {
	var out []Permission
	for _, perm := range c.ordered {
		if perm.Category == category {
			out = append(out, perm)
		}
	}
	return out
}

// Validate checks that every id exists in the catalog and returns the first
// offending id.
func (c *Catalog) Validate(ids []string) (string, bool) {
	for _, id := range ids {
		if !c.Exists(id) {
			return id, false
		}
	}
	return "", true
}
