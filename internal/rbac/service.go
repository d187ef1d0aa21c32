package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/taskdesk/taskdesk/internal/shared"
)

// AuditRecorder receives a record of every role and assignment mutation.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the single entry point for role management, assignment and
// authorization decisions. It is constructed once at startup and passed by
// reference to consumers.
type Service struct {
	catalog *Catalog
	repo    Repository
	cache   *PermissionCache
	audit   AuditRecorder
	logger  *slog.Logger

	resolveGroup singleflight.Group
	now          func() time.Time
}

// NewService constructs a Service. cache and audit may be nil in tests.
func NewService(catalog *Catalog, repo Repository, cache *PermissionCache, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalog: catalog,
		repo:    repo,
		cache:   cache,
		audit:   audit,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Catalog exposes the static permission catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id string) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a custom role. New roles are never the default and
// never system roles.
func (s *Service) CreateRole(ctx context.Context, actorID int64, name, description string, permissionIDs []string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", ErrValidation)
	}
	perms, err := s.validatePermissions(permissionIDs)
	if err != nil {
		return Role{}, err
	}
	now := s.now()
	role := Role{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateRole(ctx, role); err != nil {
		return Role{}, err
	}
	s.recordAudit(ctx, actorID, "role.create", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// RolePatch carries the optional fields of an update. Nil fields are left
// untouched.
type RolePatch struct {
	Name        *string
	Description *string
	Permissions *[]string
}

// UpdateRole applies a patch to a role. Permission edits on system roles are
// rejected; renaming a system role is allowed.
func (s *Service) UpdateRole(ctx context.Context, actorID int64, id string, patch RolePatch) (Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if patch.Permissions != nil && role.IsSystem {
		return Role{}, fmt.Errorf("%w: %s", ErrImmutableRole, id)
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name required", ErrValidation)
		}
		role.Name = name
	}
	if patch.Description != nil {
		role.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Permissions != nil {
		perms, err := s.validatePermissions(*patch.Permissions)
		if err != nil {
			return Role{}, err
		}
		role.Permissions = perms
	}
	role.UpdatedAt = s.now()
	if err := s.repo.UpdateRole(ctx, role); err != nil {
		return Role{}, err
	}
	s.cache.InvalidateAll(ctx)
	s.recordAudit(ctx, actorID, "role.update", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// DeleteRole removes a custom role. Deletion is blocked while any active
// assignment references the role; administrators must reassign first.
func (s *Service) DeleteRole(ctx context.Context, actorID int64, id string) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: %s", ErrImmutableRole, id)
	}
	count, err := s.repo.CountActiveAssignments(ctx, id, s.now())
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d active assignments", ErrRoleInUse, count)
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.cache.InvalidateAll(ctx)
	s.recordAudit(ctx, actorID, "role.delete", id, map[string]any{"name": role.Name})
	return nil
}

// ActiveRole resolves the authoritative role for a user: the latest
// non-expired assignment, else the default role.
func (s *Service) ActiveRole(ctx context.Context, userID int64) (Role, error) {
	assignment, err := s.repo.LatestAssignment(ctx, userID)
	switch {
	case err == nil && !assignment.Expired(s.now()):
		role, err := s.repo.GetRole(ctx, assignment.RoleID)
		if err == nil {
			return role, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Role{}, err
		}
		// Assigned role vanished underneath the assignment; fall back.
	case err != nil && !errors.Is(err, ErrNotFound):
		return Role{}, err
	}

	def, err := s.repo.DefaultRole(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Role{}, fmt.Errorf("%w: no default role", ErrConfiguration)
		}
		return Role{}, err
	}
	return def, nil
}

// AssignRole replaces the user's active assignment. Repeating an identical
// call leaves a single active assignment with the same role.
func (s *Service) AssignRole(ctx context.Context, userID int64, roleID, assignedBy string, expiresAt *time.Time) (Assignment, error) {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return Assignment{}, err
	}
	if _, err := s.repo.UserActive(ctx, userID); err != nil {
		return Assignment{}, err
	}
	assignment := Assignment{
		ID:         uuid.NewString(),
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		AssignedAt: s.now(),
		ExpiresAt:  expiresAt,
	}
	if err := s.repo.ReplaceAssignment(ctx, assignment); err != nil {
		return Assignment{}, err
	}
	s.cache.Invalidate(ctx, userID)
	s.recordAudit(ctx, 0, "role.assign", assignment.ID, map[string]any{
		"userId":     userID,
		"roleId":     roleID,
		"assignedBy": assignedBy,
	})
	return assignment, nil
}

// ResolvedPermissions returns the flattened permission set for a user.
// Unknown and inactive users degrade to an empty set so guards can always
// reach a definite decision.
func (s *Service) ResolvedPermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	active, err := s.repo.UserActive(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewPermissionSet(), nil
		}
		return nil, err
	}
	if !active {
		return NewPermissionSet(), nil
	}

	if set, ok := s.cache.Get(ctx, userID); ok {
		return set, nil
	}

	// Concurrent checks for one user collapse into a single resolution.
	v, err, _ := s.resolveGroup.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		role, err := s.ActiveRole(ctx, userID)
		if err != nil {
			return nil, err
		}
		set := NewPermissionSet(role.Permissions...)
		s.cache.Put(ctx, userID, set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(PermissionSet), nil
}

// Can is the one decision entry point callers use. The administrator flag is
// treated as an implicit wildcard grant so both authority paths collapse
// into Authorize.
func (s *Service) Can(ctx context.Context, principal Principal, required string) (Decision, error) {
	if !principal.IsActive {
		return Deny, nil
	}
	if principal.IsAdministrator {
		return Authorize(NewPermissionSet(Wildcard), required), nil
	}
	set, err := s.ResolvedPermissions(ctx, principal.ID)
	if err != nil {
		return Deny, err
	}
	return Authorize(set, required), nil
}

func (s *Service) validatePermissions(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		if !s.catalog.Exists(id) {
			return nil, fmt.Errorf("%w: unknown permission %q", ErrValidation, id)
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "rbac",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("rbac audit record", slog.Any("error", err))
	}
}
