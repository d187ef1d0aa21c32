package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type roleSeed struct {
	id          string
	name        string
	description string
	isDefault   bool
	permissions []string
}

// systemRoleSeeds defines the five built-in roles. The super administrator
// carries the wildcard instead of an enumerated set so catalog growth never
// requires a reseed.
var systemRoleSeeds = []roleSeed{
	{
		id:          RoleSuperAdmin,
		name:        "Super Administrator",
		description: "Unrestricted access to every part of the system",
		permissions: []string{Wildcard},
	},
	{
		id:          RoleAdmin,
		name:        "Administrator",
		description: "Administrative access to users, tasks and settings",
		permissions: []string{
			PermUsersRead, PermUsersCreate, PermUsersUpdate, PermUsersDelete,
			PermTodosRead, PermTodosCreate, PermTodosUpdate, PermTodosDelete, PermTodosManage,
			PermAnalyticsRead, PermAnalyticsManage,
			PermSystemRead,
			PermSettingsRead, PermSettingsUpdate,
		},
	},
	{
		id:          RoleModerator,
		name:        "Moderator",
		description: "Oversight of users and task content",
		permissions: []string{
			PermUsersRead,
			PermTodosRead, PermTodosUpdate,
			PermAnalyticsRead,
		},
	},
	{
		id:          RoleUser,
		name:        "User",
		description: "Regular account working on own tasks",
		isDefault:   true,
		permissions: []string{
			PermTodosRead, PermTodosCreate, PermTodosUpdate, PermTodosDelete,
		},
	},
	{
		id:          RoleGuest,
		name:        "Guest",
		description: "Read-only visitor",
		permissions: []string{PermTodosRead},
	},
}

// EnsureSeeded inserts any missing system role and verifies exactly one
// default role exists afterwards. Existing rows are left untouched so seeded
// environments keep their timestamps. A missing default is a deployment
// defect and reported as ErrConfiguration; callers should treat it as fatal.
func (s *Service) EnsureSeeded(ctx context.Context) error {
	now := time.Now().UTC()
	for _, seed := range systemRoleSeeds {
		_, err := s.repo.GetRole(ctx, seed.id)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		role := Role{
			ID:          seed.id,
			Name:        seed.name,
			Description: seed.description,
			Permissions: append([]string(nil), seed.permissions...),
			IsSystem:    true,
			IsDefault:   seed.isDefault,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.CreateRole(ctx, role); err != nil {
			return fmt.Errorf("seed role %s: %w", seed.id, err)
		}
	}

	def, err := s.repo.DefaultRole(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: no default role after seeding", ErrConfiguration)
		}
		return err
	}
	if def.ID == "" {
		return fmt.Errorf("%w: default role has empty id", ErrConfiguration)
	}
	return nil
}
