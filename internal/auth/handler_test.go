package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/taskdesk/taskdesk/internal/auth"
	"github.com/taskdesk/taskdesk/internal/rbac"
	"github.com/taskdesk/taskdesk/internal/shared"
)

type memRoleRepo struct {
	roles       map[string]rbac.Role
	assignments map[int64]rbac.Assignment
	active      map[int64]bool
	users       *memRepo
}

func newMemRoleRepo() *memRoleRepo {
	return &memRoleRepo{
		roles:       make(map[string]rbac.Role),
		assignments: make(map[int64]rbac.Assignment),
		active:      make(map[int64]bool),
	}
}

func (m *memRoleRepo) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	out := make([]rbac.Role, 0, len(m.roles))
	for _, role := range m.roles {
		out = append(out, role)
	}
	return out, nil
}

func (m *memRoleRepo) GetRole(ctx context.Context, id string) (rbac.Role, error) {
	if role, ok := m.roles[id]; ok {
		return role, nil
	}
	return rbac.Role{}, rbac.ErrNotFound
}

func (m *memRoleRepo) DefaultRole(ctx context.Context) (rbac.Role, error) {
	for _, role := range m.roles {
		if role.IsDefault {
			return role, nil
		}
	}
	return rbac.Role{}, rbac.ErrNotFound
}

func (m *memRoleRepo) CreateRole(ctx context.Context, role rbac.Role) error {
	m.roles[role.ID] = role
	return nil
}

func (m *memRoleRepo) UpdateRole(ctx context.Context, role rbac.Role) error {
	m.roles[role.ID] = role
	return nil
}

func (m *memRoleRepo) DeleteRole(ctx context.Context, id string) error {
	delete(m.roles, id)
	return nil
}

func (m *memRoleRepo) LatestAssignment(ctx context.Context, userID int64) (rbac.Assignment, error) {
	if a, ok := m.assignments[userID]; ok {
		return a, nil
	}
	return rbac.Assignment{}, rbac.ErrNotFound
}

func (m *memRoleRepo) ReplaceAssignment(ctx context.Context, assignment rbac.Assignment) error {
	m.assignments[assignment.UserID] = assignment
	return nil
}

func (m *memRoleRepo) CountActiveAssignments(ctx context.Context, roleID string, now time.Time) (int64, error) {
	var n int64
	for _, a := range m.assignments {
		if a.RoleID == roleID && !a.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (m *memRoleRepo) UserActive(ctx context.Context, userID int64) (bool, error) {
	if active, ok := m.active[userID]; ok {
		return active, nil
	}
	// Mirror the shared database: users created through the auth repo are
	// visible to the role repo without an explicit sync step.
	if m.users != nil {
		if user, ok := m.users.users[userID]; ok {
			return user.IsActive, nil
		}
	}
	return false, rbac.ErrNotFound
}

type commitWriter struct {
	http.ResponseWriter
	t         *testing.T
	ctx       context.Context
	req       *http.Request
	sessions  *shared.SessionManager
	sess      *shared.Session
	committed bool
}

func (w *commitWriter) WriteHeader(statusCode int) {
	w.commit()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *commitWriter) Write(data []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(data)
}

func (w *commitWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	if err := w.sessions.Commit(w.ctx, w.ResponseWriter, w.req, w.sess); err != nil {
		w.t.Fatalf("commit session: %v", err)
	}
}

type testEnv struct {
	router   chi.Router
	repo     *memRepo
	roleRepo *memRoleRepo
	sessions *shared.SessionManager
}

func newTestEnv(t *testing.T, adminEmails []string) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")

	roleRepo := newMemRoleRepo()
	roleService := rbac.NewService(rbac.NewCatalog(), roleRepo, nil, nil, nil)
	if err := roleService.EnsureSeeded(context.Background()); err != nil {
		t.Fatalf("seed roles: %v", err)
	}

	repo := newMemRepo()
	roleRepo.users = repo
	service := auth.NewService(repo, roleService, adminEmails)
	handler := auth.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), service, roleService, sessions, csrf)
	for id := range repo.users {
		roleRepo.active[id] = repo.users[id].IsActive
	}

	guard := rbac.Middleware{Service: roleService, Principals: service}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Load(r.Context(), r)
			if err != nil {
				t.Fatalf("load session: %v", err)
			}
			ctx := shared.ContextWithSession(r.Context(), sess)
			// Commit before the first header write, like the production
			// session middleware, so Set-Cookie headers take effect.
			wrapped := &commitWriter{ResponseWriter: w, t: t, ctx: ctx, req: r, sessions: sessions, sess: sess}
			next.ServeHTTP(wrapped, r.WithContext(ctx))
			wrapped.commit()
		})
	})
	router.Use(guard.WithPrincipal)
	router.Route("/auth", handler.MountRoutes)

	return &testEnv{router: router, repo: repo, roleRepo: roleRepo, sessions: sessions}
}

func (e *testEnv) addUser(t *testing.T, email, password string, active bool) int64 {
	t.Helper()
	user := e.repo.add(email, password, active)
	e.roleRepo.active[user.ID] = active
	return user.ID
}

func sessionCookie(res *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range res.Result().Cookies() {
		if c.Name == name && c.Value != "" {
			return c
		}
	}
	return nil
}

func TestLoginIssuesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "user@test.local", "correctpass", true)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"user@test.local","password":"correctpass"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	env.router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if sessionCookie(res, "test_session") == nil {
		t.Fatalf("expected session cookie to be set")
	}
	var body map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["email"] != "user@test.local" {
		t.Fatalf("unexpected identity payload: %v", body)
	}
	if token, _ := body["csrfToken"].(string); token == "" {
		t.Fatalf("expected csrf token in login response")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "user@test.local", "correctpass", true)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"user@test.local","password":"wrongpass"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	env.router.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestRegisterSignsInAndAssignsRole(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"new@test.local","displayName":"New User","password":"longenoughpass"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	env.router.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	user, err := env.repo.FindByEmail(context.Background(), "new@test.local")
	if err != nil {
		t.Fatalf("registered user missing: %v", err)
	}
	assignment, err := env.roleRepo.LatestAssignment(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("expected starting assignment: %v", err)
	}
	if assignment.RoleID != rbac.RoleUser || assignment.AssignedBy != rbac.AssignedBySystem {
		t.Fatalf("unexpected starting assignment: %+v", assignment)
	}
}

func TestMeReflectsResolvedPermissions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "user@test.local", "correctpass", true)

	login := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"user@test.local","password":"correctpass"}`))
	login.Header.Set("Content-Type", "application/json")
	loginRes := httptest.NewRecorder()
	env.router.ServeHTTP(loginRes, login)
	cookie := sessionCookie(loginRes, "test_session")
	if cookie == nil {
		t.Fatalf("no session cookie from login")
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	res := httptest.NewRecorder()
	env.router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body struct {
		Role        rbac.Role `json:"role"`
		Permissions []string  `json:"permissions"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Role.ID != rbac.RoleUser {
		t.Fatalf("expected default role %q, got %q", rbac.RoleUser, body.Role.ID)
	}
	found := false
	for _, p := range body.Permissions {
		if p == rbac.PermTodosRead {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q among resolved permissions %v", rbac.PermTodosRead, body.Permissions)
	}
}

func TestMeRequiresSession(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	res := httptest.NewRecorder()
	env.router.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "user@test.local", "correctpass", true)

	login := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"user@test.local","password":"correctpass"}`))
	login.Header.Set("Content-Type", "application/json")
	loginRes := httptest.NewRecorder()
	env.router.ServeHTTP(loginRes, login)
	cookie := sessionCookie(loginRes, "test_session")
	if cookie == nil {
		t.Fatalf("no session cookie from login")
	}

	logout := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	logout.AddCookie(cookie)
	logoutRes := httptest.NewRecorder()
	env.router.ServeHTTP(logoutRes, logout)
	if logoutRes.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", logoutRes.Code)
	}

	me := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	me.AddCookie(cookie)
	meRes := httptest.NewRecorder()
	env.router.ServeHTTP(meRes, me)
	if meRes.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", meRes.Code)
	}
}
