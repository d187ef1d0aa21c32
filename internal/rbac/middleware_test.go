package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/taskdesk/taskdesk/internal/shared"
)

type stubPrincipals struct {
	byID map[int64]Principal
}

func (s *stubPrincipals) PrincipalByID(ctx context.Context, userID int64) (Principal, error) {
	principal, ok := s.byID[userID]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return principal, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func requestWithPrincipal(p Principal) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return req.WithContext(ContextWithPrincipal(req.Context(), p))
}

func TestRequireAuth(t *testing.T) {
	guard := Middleware{}

	rec := httptest.NewRecorder()
	guard.RequireAuth(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	guard.RequireAuth(okHandler()).ServeHTTP(rec, requestWithPrincipal(Principal{ID: 1, IsActive: true}))
	if rec.Code != http.StatusOK {
		t.Fatalf("signed in: status %d, want 200", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	guard := Middleware{}

	rec := httptest.NewRecorder()
	guard.RequireAdmin(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status %d, want 401", rec.Code)
	}

	// A signed-in non-administrator is pointed at the landing page.
	rec = httptest.NewRecorder()
	guard.RequireAdmin(okHandler()).ServeHTTP(rec, requestWithPrincipal(Principal{ID: 1, IsActive: true}))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member: status %d, want 403", rec.Code)
	}
	if rec.Header().Get("Location") != "/dashboard" {
		t.Fatalf("member: missing landing redirect hint")
	}

	rec = httptest.NewRecorder()
	guard.RequireAdmin(okHandler()).ServeHTTP(rec, requestWithPrincipal(Principal{ID: 1, IsActive: true, IsAdministrator: true}))
	if rec.Code != http.StatusOK {
		t.Fatalf("administrator: status %d, want 200", rec.Code)
	}
}

func TestRequireAdminRejectsDeactivatedAccount(t *testing.T) {
	guard := Middleware{}

	// Deactivation strips every permission; the administrator flag alone
	// must not keep the admin console open.
	rec := httptest.NewRecorder()
	guard.RequireAdmin(okHandler()).ServeHTTP(rec, requestWithPrincipal(Principal{ID: 1, IsAdministrator: true, IsActive: false}))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("deactivated administrator: status %d, want 403", rec.Code)
	}
}

func TestRequireAnyDecisions(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.users[7] = true
	guard := Middleware{Service: svc}

	member := Principal{ID: 7, IsActive: true}

	// Default role grants todos:read.
	rec := httptest.NewRecorder()
	guard.RequireAny(PermTodosRead)(okHandler()).ServeHTTP(rec, requestWithPrincipal(member))
	if rec.Code != http.StatusOK {
		t.Fatalf("todos:read: status %d, want 200", rec.Code)
	}

	// Deny renders an in-body unauthorized problem, not a redirect.
	rec = httptest.NewRecorder()
	guard.RequireAny(PermUsersManage)(okHandler()).ServeHTTP(rec, requestWithPrincipal(member))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("users:manage: status %d, want 403", rec.Code)
	}
	if rec.Header().Get("Location") != "" {
		t.Fatalf("deny must not navigate away")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("deny body content type %q", ct)
	}

	// No requirement means public.
	rec = httptest.NewRecorder()
	guard.RequireAny()(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("public route: status %d, want 200", rec.Code)
	}

	// Requirement without a principal sends the caller to sign in.
	rec = httptest.NewRecorder()
	guard.RequireAny(PermTodosRead)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous with requirement: status %d, want 401", rec.Code)
	}
}

type stubDecisionRecorder struct {
	recorded map[string]string
}

func (s *stubDecisionRecorder) RecordAuthzDecision(permission, decision string) {
	if s.recorded == nil {
		s.recorded = make(map[string]string)
	}
	s.recorded[permission] = decision
}

func TestRequireAnyRecordsDecisions(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.users[7] = true
	recorder := &stubDecisionRecorder{}
	guard := Middleware{Service: svc, Metrics: recorder}

	member := Principal{ID: 7, IsActive: true}

	rec := httptest.NewRecorder()
	guard.RequireAny(PermTodosRead)(okHandler()).ServeHTTP(rec, requestWithPrincipal(member))
	if got := recorder.recorded[PermTodosRead]; got != "allow" {
		t.Fatalf("todos:read decision recorded as %q, want allow", got)
	}

	rec = httptest.NewRecorder()
	guard.RequireAny(PermUsersManage)(okHandler()).ServeHTTP(rec, requestWithPrincipal(member))
	if got := recorder.recorded[PermUsersManage]; got != "deny" {
		t.Fatalf("users:manage decision recorded as %q, want deny", got)
	}
}

func TestWithPrincipalResolvesSessionUser(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "taskdesk_session", "secret", time.Hour, false)

	svc, repo, _ := newTestService(t)
	repo.users[7] = true
	guard := Middleware{
		Service:    svc,
		Principals: &stubPrincipals{byID: map[int64]Principal{7: {ID: 7, Email: "u@example.com", IsActive: true}}},
	}

	var got Principal
	var resolved bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, resolved = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sessions.Load(req.Context(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser(strconv.FormatInt(7, 10))
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	rec := httptest.NewRecorder()
	guard.WithPrincipal(inner).ServeHTTP(rec, req)
	if !resolved {
		t.Fatalf("principal not resolved from session")
	}
	if got.ID != 7 || got.Email != "u@example.com" {
		t.Fatalf("unexpected principal: %+v", got)
	}

	// An unknown session user falls through as anonymous.
	resolved = false
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	sess, _ = sessions.Load(req.Context(), req)
	sess.SetUser("404")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	rec = httptest.NewRecorder()
	guard.WithPrincipal(inner).ServeHTTP(rec, req)
	if resolved {
		t.Fatalf("vanished account must resolve to no principal")
	}
}
