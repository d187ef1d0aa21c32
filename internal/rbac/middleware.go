package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/taskdesk/taskdesk/internal/platform/httpx"
	"github.com/taskdesk/taskdesk/internal/shared"
)

// PrincipalSource resolves the stable principal record for a user id. The
// auth package implements it on top of the users table and the
// administrator allow list.
type PrincipalSource interface {
	PrincipalByID(ctx context.Context, userID int64) (Principal, error)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the resolved principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal resolved by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// DecisionRecorder counts guard outcomes per permission. Implemented by
// observability.Metrics.
type DecisionRecorder interface {
	RecordAuthzDecision(permission, decision string)
}

// Middleware wires the route guard: it resolves the principal from the
// session and evaluates permission requirements through the decision
// service. Every request re-resolves; nothing is reused across navigations,
// so a role change is honoured on the next guarded action.
type Middleware struct {
	Service    *Service
	Principals PrincipalSource
	Logger     *slog.Logger
	Metrics    DecisionRecorder
}

// WithPrincipal resolves the session user into a Principal and stashes it in
// the request context. Requests without a signed-in session pass through
// untouched; public routes stay public.
func (m Middleware) WithPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.sessionUserID(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := m.Principals.PrincipalByID(r.Context(), userID)
		if err != nil {
			// A vanished account resolves to no principal, not an error page.
			m.log().Warn("resolve principal", slog.Int64("userId", userID), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireAuth rejects requests without a resolved principal.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Sign In Required", "sign in at /auth/login to continue")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin admits only active principals carrying the administrator
// flag. A deactivated account holds no permissions, administrator or not.
// A signed-in non-administrator is redirected to the default landing page
// rather than shown an error page.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Sign In Required", "sign in at /auth/login to continue")
			return
		}
		if !principal.IsAdministrator || !principal.IsActive {
			w.Header().Set("Location", "/dashboard")
			httpx.Problem(w, http.StatusForbidden, "Administrator Only", "this area is restricted to administrators")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Require gates a route on a single permission. Denials render an in-body
// unauthorized problem instead of navigating away.
func (m Middleware) Require(permission string) func(http.Handler) http.Handler {
	return m.RequireAny(permission)
}

// RequireAny admits principals granted at least one of the permissions.
func (m Middleware) RequireAny(permissions ...string) func(http.Handler) http.Handler {
	required := normalizePermissions(permissions)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Sign In Required", "sign in at /auth/login to continue")
				return
			}
			for _, perm := range required {
				decision, err := m.Service.Can(r.Context(), principal, perm)
				if err != nil {
					m.log().Error("authorize", slog.String("permission", perm), slog.Any("error", err))
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
					return
				}
				m.recordDecision(perm, decision)
				if decision == Allow {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.Problem(w, http.StatusForbidden, "Unauthorized", "you do not have permission to access this resource")
		})
	}
}

func (m Middleware) sessionUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.log().Error("parse session user id", slog.String("value", raw))
		return 0, false
	}
	return id, true
}

func (m Middleware) recordDecision(permission string, decision Decision) {
	if m.Metrics == nil {
		return
	}
	m.Metrics.RecordAuthzDecision(permission, decision.String())
}

func (m Middleware) log() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
