package rbac

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/taskdesk/taskdesk/internal/shared"
)

type memRepo struct {
	roles       map[string]Role
	assignments map[int64][]Assignment
	users       map[int64]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		roles:       make(map[string]Role),
		assignments: make(map[int64][]Assignment),
		users:       make(map[int64]bool),
	}
}

func (m *memRepo) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(m.roles))
	for _, role := range m.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) GetRole(ctx context.Context, id string) (Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (m *memRepo) DefaultRole(ctx context.Context) (Role, error) {
	for _, role := range m.roles {
		if role.IsDefault {
			return role, nil
		}
	}
	return Role{}, ErrNotFound
}

func (m *memRepo) CreateRole(ctx context.Context, role Role) error {
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return ErrDuplicateRole
		}
	}
	m.roles[role.ID] = role
	return nil
}

func (m *memRepo) UpdateRole(ctx context.Context, role Role) error {
	if _, ok := m.roles[role.ID]; !ok {
		return ErrNotFound
	}
	m.roles[role.ID] = role
	return nil
}

func (m *memRepo) DeleteRole(ctx context.Context, id string) error {
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

func (m *memRepo) LatestAssignment(ctx context.Context, userID int64) (Assignment, error) {
	history := m.assignments[userID]
	if len(history) == 0 {
		return Assignment{}, ErrNotFound
	}
	return history[len(history)-1], nil
}

func (m *memRepo) ReplaceAssignment(ctx context.Context, assignment Assignment) error {
	if _, ok := m.users[assignment.UserID]; !ok {
		return ErrNotFound
	}
	m.assignments[assignment.UserID] = append(m.assignments[assignment.UserID], assignment)
	return nil
}

func (m *memRepo) CountActiveAssignments(ctx context.Context, roleID string, now time.Time) (int64, error) {
	var count int64
	for userID := range m.assignments {
		latest, err := m.LatestAssignment(ctx, userID)
		if err != nil {
			continue
		}
		if latest.RoleID == roleID && !latest.Expired(now) {
			count++
		}
	}
	return count, nil
}

func (m *memRepo) UserActive(ctx context.Context, userID int64) (bool, error) {
	active, ok := m.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	return active, nil
}

type memAudit struct {
	logs []shared.AuditLog
}

func (a *memAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newTestService(t *testing.T) (*Service, *memRepo, *memAudit) {
	t.Helper()
	repo := newMemRepo()
	audit := &memAudit{}
	svc := NewService(NewCatalog(), repo, nil, audit, nil)
	if err := svc.EnsureSeeded(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return svc, repo, audit
}

func TestEnsureSeededCreatesSystemRoles(t *testing.T) {
	svc, repo, _ := newTestService(t)

	for _, id := range []string{RoleSuperAdmin, RoleAdmin, RoleModerator, RoleUser, RoleGuest} {
		role, err := svc.GetRole(context.Background(), id)
		if err != nil {
			t.Fatalf("system role %s missing: %v", id, err)
		}
		if !role.IsSystem {
			t.Fatalf("role %s not marked system", id)
		}
	}

	def, err := repo.DefaultRole(context.Background())
	if err != nil {
		t.Fatalf("default role: %v", err)
	}
	if def.ID != RoleUser {
		t.Fatalf("default role = %s, want %s", def.ID, RoleUser)
	}

	// Seeding twice must not duplicate or reset anything.
	before, _ := svc.ListRoles(context.Background())
	if err := svc.EnsureSeeded(context.Background()); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	after, _ := svc.ListRoles(context.Background())
	if len(before) != len(after) {
		t.Fatalf("reseed changed role count: %d -> %d", len(before), len(after))
	}
}

func TestEnsureSeededRequiresDefault(t *testing.T) {
	repo := newMemRepo()
	// Pre-populate every system role with the default flag cleared so the
	// seeder has nothing to insert.
	now := time.Now().UTC()
	for _, id := range []string{RoleSuperAdmin, RoleAdmin, RoleModerator, RoleUser, RoleGuest} {
		repo.roles[id] = Role{ID: id, Name: id, IsSystem: true, CreatedAt: now, UpdatedAt: now}
	}
	svc := NewService(NewCatalog(), repo, nil, nil, nil)
	err := svc.EnsureSeeded(context.Background())
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestCreateRoleRejectsUnknownPermission(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	before, _ := svc.ListRoles(ctx)
	_, err := svc.CreateRole(ctx, 1, "Support", "", []string{PermTodosRead, "bogus:action"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	after, _ := svc.ListRoles(ctx)
	if len(before) != len(after) {
		t.Fatalf("failed create mutated registry: %d -> %d", len(before), len(after))
	}
}

func TestCreateRoleRejectsEmptyName(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.CreateRole(context.Background(), 1, "   ", "", []string{PermTodosRead}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCreateRoleDeduplicatesPermissions(t *testing.T) {
	svc, _, _ := newTestService(t)
	role, err := svc.CreateRole(context.Background(), 1, "Reader", "", []string{PermTodosRead, PermTodosRead, PermUsersRead})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(role.Permissions) != 2 {
		t.Fatalf("expected deduplicated permissions, got %v", role.Permissions)
	}
	if role.IsDefault || role.IsSystem {
		t.Fatalf("custom role must not be default or system: %+v", role)
	}
}

func TestUpdateRoleSystemPermissionsImmutable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	stored, _ := svc.GetRole(ctx, RoleUser)
	patch := []string{PermTodosRead}
	_, err := svc.UpdateRole(ctx, 1, RoleUser, RolePatch{Permissions: &patch})
	if !errors.Is(err, ErrImmutableRole) {
		t.Fatalf("expected ErrImmutableRole, got %v", err)
	}

	// Stored role must be untouched by the rejected patch.
	after, _ := svc.GetRole(ctx, RoleUser)
	if len(after.Permissions) != len(stored.Permissions) || !after.UpdatedAt.Equal(stored.UpdatedAt) {
		t.Fatalf("rejected patch mutated stored role")
	}
}

func TestUpdateRoleRenameSystemRoleAllowed(t *testing.T) {
	svc, _, _ := newTestService(t)
	name := "Members"
	role, err := svc.UpdateRole(context.Background(), 1, RoleUser, RolePatch{Name: &name})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if role.Name != "Members" {
		t.Fatalf("rename not applied: %s", role.Name)
	}
}

func TestUpdateRoleUnknownID(t *testing.T) {
	svc, _, _ := newTestService(t)
	name := "x"
	if _, err := svc.UpdateRole(context.Background(), 1, "missing", RolePatch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRoleBlockedWhileAssigned(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	repo.users[7] = true

	role, err := svc.CreateRole(ctx, 1, "Temp", "", []string{PermTodosRead})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AssignRole(ctx, 7, role.ID, "1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := svc.DeleteRole(ctx, 1, role.ID); !errors.Is(err, ErrRoleInUse) {
		t.Fatalf("expected ErrRoleInUse, got %v", err)
	}

	// After moving the user elsewhere the delete goes through.
	if _, err := svc.AssignRole(ctx, 7, RoleUser, "1", nil); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if err := svc.DeleteRole(ctx, 1, role.ID); err != nil {
		t.Fatalf("delete after reassign: %v", err)
	}
}

func TestDeleteSystemRoleRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, id := range []string{RoleSuperAdmin, RoleAdmin, RoleModerator, RoleUser, RoleGuest} {
		if err := svc.DeleteRole(context.Background(), 1, id); !errors.Is(err, ErrImmutableRole) {
			t.Fatalf("expected ErrImmutableRole for %s, got %v", id, err)
		}
	}
}

func TestAssignRoleUnknownRole(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.users[7] = true
	if _, err := svc.AssignRole(context.Background(), 7, "missing", "1", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignRoleIdempotent(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	repo.users[7] = true

	if _, err := svc.AssignRole(ctx, 7, RoleModerator, "1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := svc.AssignRole(ctx, 7, RoleModerator, "1", nil); err != nil {
		t.Fatalf("assign twice: %v", err)
	}

	role, err := svc.ActiveRole(ctx, 7)
	if err != nil {
		t.Fatalf("active role: %v", err)
	}
	if role.ID != RoleModerator {
		t.Fatalf("active role = %s, want %s", role.ID, RoleModerator)
	}
}

func TestActiveRoleExpiredFallsBackToDefault(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	repo.users[7] = true

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := svc.AssignRole(ctx, 7, RoleAdmin, "1", &past); err != nil {
		t.Fatalf("assign: %v", err)
	}

	role, err := svc.ActiveRole(ctx, 7)
	if err != nil {
		t.Fatalf("active role: %v", err)
	}
	if role.ID != RoleUser {
		t.Fatalf("expired assignment resolved to %s, want default %s", role.ID, RoleUser)
	}
}

func TestActiveRoleNoAssignmentUsesDefault(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.users[7] = true
	role, err := svc.ActiveRole(context.Background(), 7)
	if err != nil {
		t.Fatalf("active role: %v", err)
	}
	if role.ID != RoleUser {
		t.Fatalf("expected default role, got %s", role.ID)
	}
}

func TestResolvedPermissionsDegradeToEmpty(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	// Unknown user.
	set, err := svc.ResolvedPermissions(ctx, 404)
	if err != nil {
		t.Fatalf("unknown user: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("unknown user resolved to %v", set.IDs())
	}

	// Inactive user resolves to zero permissions regardless of role.
	repo.users[8] = false
	if _, err := svc.AssignRole(ctx, 8, RoleSuperAdmin, "1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	set, err = svc.ResolvedPermissions(ctx, 8)
	if err != nil {
		t.Fatalf("inactive user: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("inactive user resolved to %v", set.IDs())
	}
}

func TestCanScenarios(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	repo.users[7] = true

	member := Principal{ID: 7, IsActive: true}

	// Default role: full CRUD on own tasks, no manage.
	if d, err := svc.Can(ctx, member, PermTodosRead); err != nil || d != Allow {
		t.Fatalf("todos:read = %v (%v), want allow", d, err)
	}
	if d, err := svc.Can(ctx, member, PermTodosManage); err != nil || d != Deny {
		t.Fatalf("todos:manage = %v (%v), want deny", d, err)
	}

	// Administrator flag is an implicit wildcard.
	admin := Principal{ID: 99, IsActive: true, IsAdministrator: true}
	if d, err := svc.Can(ctx, admin, PermSystemManage); err != nil || d != Allow {
		t.Fatalf("admin system:manage = %v (%v), want allow", d, err)
	}

	// Inactive principal denies everything, administrator or not.
	inactive := Principal{ID: 7, IsAdministrator: true}
	if d, err := svc.Can(ctx, inactive, PermTodosRead); err != nil || d != Deny {
		t.Fatalf("inactive = %v (%v), want deny", d, err)
	}

	// Super admin role carries the wildcard.
	if _, err := svc.AssignRole(ctx, 7, RoleSuperAdmin, "1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if d, err := svc.Can(ctx, member, PermSystemManage); err != nil || d != Allow {
		t.Fatalf("super admin system:manage = %v (%v), want allow", d, err)
	}
}

func TestMutationsAreAudited(t *testing.T) {
	svc, repo, audit := newTestService(t)
	ctx := context.Background()
	repo.users[7] = true

	role, err := svc.CreateRole(ctx, 1, "Audited", "", []string{PermTodosRead})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AssignRole(ctx, 7, role.ID, "1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	var actions []string
	for _, log := range audit.logs {
		actions = append(actions, log.Action)
	}
	want := map[string]bool{"role.create": false, "role.assign": false}
	for _, action := range actions {
		if _, ok := want[action]; ok {
			want[action] = true
		}
	}
	for action, seen := range want {
		if !seen {
			t.Fatalf("missing audit action %s in %v", action, actions)
		}
	}
}
