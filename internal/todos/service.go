package todos

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskdesk/taskdesk/internal/rbac"
	"github.com/taskdesk/taskdesk/internal/shared"
)

// Decider answers permission checks for a principal. Implemented by the
// rbac service.
type Decider interface {
	Can(ctx context.Context, principal rbac.Principal, required string) (rbac.Decision, error)
}

// Service handles task business logic. Route guards admit anyone holding a
// todos permission; the service narrows every call to the caller's own tasks
// unless the caller holds the manage permission.
type Service struct {
	repo    Repository
	decider Decider
	audit   rbac.AuditRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds a Service instance. audit may be nil in tests.
func NewService(repo Repository, decider Decider, audit rbac.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		decider: decider,
		audit:   audit,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// List returns tasks visible to the principal. Listing across owners needs
// the manage permission; everyone else is scoped to their own tasks.
func (s *Service) List(ctx context.Context, principal rbac.Principal, q ListQuery) ([]Todo, shared.Pagination, error) {
	if q.OwnerID != principal.ID {
		manager, err := s.isManager(ctx, principal)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		if !manager {
			q.OwnerID = principal.ID
		}
	}
	todos, total, err := s.repo.ListTodos(ctx, q)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return todos, shared.NewPagination(q.Page, q.PerPage, total), nil
}

// Get fetches a single task, enforcing ownership.
func (s *Service) Get(ctx context.Context, principal rbac.Principal, id string) (Todo, error) {
	todo, err := s.repo.GetTodo(ctx, id)
	if err != nil {
		return Todo{}, err
	}
	if err := s.authorizeAccess(ctx, principal, todo); err != nil {
		return Todo{}, err
	}
	return todo, nil
}

// CreateInput carries the fields of a new task.
type CreateInput struct {
	Title       string
	Description string
	Priority    Priority
	DueAt       *time.Time
	// OwnerID other than the caller requires the manage permission.
	OwnerID int64
}

// Create inserts a new pending task.
func (s *Service) Create(ctx context.Context, principal rbac.Principal, in CreateInput) (Todo, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Todo{}, fmt.Errorf("%w: title required", rbac.ErrValidation)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return Todo{}, fmt.Errorf("%w: unknown priority %q", rbac.ErrValidation, in.Priority)
	}
	owner := principal.ID
	if in.OwnerID != 0 && in.OwnerID != principal.ID {
		manager, err := s.isManager(ctx, principal)
		if err != nil {
			return Todo{}, err
		}
		if !manager {
			return Todo{}, ErrForbidden
		}
		owner = in.OwnerID
	}

	now := s.now()
	todo := Todo{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      StatusPending,
		Priority:    in.Priority,
		DueAt:       in.DueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateTodo(ctx, todo); err != nil {
		return Todo{}, err
	}
	s.recordAudit(ctx, principal.ID, "todo.create", todo.ID, map[string]any{"ownerId": owner})
	return todo, nil
}

// Patch carries optional task updates. Nil fields stay untouched.
type Patch struct {
	Title       *string
	Description *string
	Status      *Status
	Priority    *Priority
	DueAt       **time.Time
}

// Update applies a patch, enforcing ownership.
func (s *Service) Update(ctx context.Context, principal rbac.Principal, id string, patch Patch) (Todo, error) {
	todo, err := s.repo.GetTodo(ctx, id)
	if err != nil {
		return Todo{}, err
	}
	if err := s.authorizeAccess(ctx, principal, todo); err != nil {
		return Todo{}, err
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return Todo{}, fmt.Errorf("%w: title required", rbac.ErrValidation)
		}
		todo.Title = title
	}
	if patch.Description != nil {
		todo.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return Todo{}, fmt.Errorf("%w: unknown status %q", rbac.ErrValidation, *patch.Status)
		}
		todo.Status = *patch.Status
	}
	if patch.Priority != nil {
		if !patch.Priority.Valid() {
			return Todo{}, fmt.Errorf("%w: unknown priority %q", rbac.ErrValidation, *patch.Priority)
		}
		todo.Priority = *patch.Priority
	}
	if patch.DueAt != nil {
		todo.DueAt = *patch.DueAt
	}
	todo.UpdatedAt = s.now()

	if err := s.repo.UpdateTodo(ctx, todo); err != nil {
		return Todo{}, err
	}
	s.recordAudit(ctx, principal.ID, "todo.update", todo.ID, map[string]any{"ownerId": todo.OwnerID})
	return todo, nil
}

// Delete removes a task, enforcing ownership.
func (s *Service) Delete(ctx context.Context, principal rbac.Principal, id string) error {
	todo, err := s.repo.GetTodo(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorizeAccess(ctx, principal, todo); err != nil {
		return err
	}
	if err := s.repo.DeleteTodo(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, principal.ID, "todo.delete", id, map[string]any{"ownerId": todo.OwnerID})
	return nil
}

func (s *Service) authorizeAccess(ctx context.Context, principal rbac.Principal, todo Todo) error {
	if todo.OwnerID == principal.ID {
		return nil
	}
	manager, err := s.isManager(ctx, principal)
	if err != nil {
		return err
	}
	if !manager {
		return ErrForbidden
	}
	return nil
}

func (s *Service) isManager(ctx context.Context, principal rbac.Principal) (bool, error) {
	decision, err := s.decider.Can(ctx, principal, rbac.PermTodosManage)
	if err != nil {
		return false, err
	}
	return decision == rbac.Allow, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "todo",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("todos audit record", slog.Any("error", err))
	}
}
