package users

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/taskdesk/taskdesk/internal/rbac"
	"github.com/taskdesk/taskdesk/internal/shared"
)

// RoleService is the slice of the rbac service the directory needs.
type RoleService interface {
	AssignRole(ctx context.Context, userID int64, roleID, assignedBy string, expiresAt *time.Time) (rbac.Assignment, error)
	ActiveRole(ctx context.Context, userID int64) (rbac.Role, error)
}

// Service handles user directory business logic.
type Service struct {
	repo   Repository
	roles  RoleService
	audit  rbac.AuditRecorder
	logger *slog.Logger
}

// NewService builds a Service instance. audit may be nil in tests.
func NewService(repo Repository, roles RoleService, audit rbac.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, audit: audit, logger: logger}
}

// ListUsers returns one directory page with pagination metadata.
func (s *Service) ListUsers(ctx context.Context, q ListQuery) ([]User, shared.Pagination, error) {
	users, total, err := s.repo.ListUsers(ctx, q)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(q.Page, q.PerPage, total), nil
}

// GetUser fetches a single account.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// SetActive activates or deactivates an account. A deactivated account keeps
// its role rows but resolves to zero permissions on the next check.
func (s *Service) SetActive(ctx context.Context, actorID, userID int64, active bool) (User, error) {
	if err := s.repo.SetActive(ctx, userID, active); err != nil {
		return User{}, err
	}
	action := "user.deactivate"
	if active {
		action = "user.activate"
	}
	s.recordAudit(ctx, actorID, action, userID, nil)
	return s.repo.GetUser(ctx, userID)
}

// AssignRole gives the user a new active role on behalf of the actor.
func (s *Service) AssignRole(ctx context.Context, actorID, userID int64, roleID string, expiresAt *time.Time) (rbac.Assignment, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return rbac.Assignment{}, err
	}
	return s.roles.AssignRole(ctx, userID, roleID, strconv.FormatInt(actorID, 10), expiresAt)
}

// ActiveRole resolves the user's authoritative role for display.
func (s *Service) ActiveRole(ctx context.Context, userID int64) (rbac.Role, error) {
	return s.roles.ActiveRole(ctx, userID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, userID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
		At:       time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("users audit record", slog.Any("error", err))
	}
}
