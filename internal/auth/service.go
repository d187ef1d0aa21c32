package auth

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/taskdesk/taskdesk/internal/rbac"
	"github.com/taskdesk/taskdesk/internal/shared"
)

// RoleAssigner hands out the starting role to freshly registered accounts.
// Implemented by the rbac service.
type RoleAssigner interface {
	AssignRole(ctx context.Context, userID int64, roleID, assignedBy string, expiresAt *time.Time) (rbac.Assignment, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo        Repository
	roles       RoleAssigner
	adminEmails map[string]struct{}
}

// NewService constructs a new Service. adminEmails is the allow list of
// accounts that carry the administrator override regardless of role.
func NewService(repo Repository, roles RoleAssigner, adminEmails []string) *Service {
	allow := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		allow[email] = struct{}{}
	}
	return &Service{repo: repo, roles: roles, adminEmails: allow}
}

// Authenticate validates email/password credentials. Deactivated accounts
// fail the same way as wrong passwords so the response does not leak state.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Register creates an account and hands it the default role. The role
// assignment is recorded as made by the platform, not by a person.
func (s *Service) Register(ctx context.Context, email, displayName, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.CreateUser(ctx, strings.ToLower(strings.TrimSpace(email)), strings.TrimSpace(displayName), string(hash))
	if err != nil {
		return nil, err
	}
	if s.roles != nil {
		if _, err := s.roles.AssignRole(ctx, user.ID, rbac.RoleUser, rbac.AssignedBySystem, nil); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// PrincipalByID resolves the guard-facing identity for a user id.
func (s *Service) PrincipalByID(ctx context.Context, userID int64) (rbac.Principal, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return rbac.Principal{}, err
	}
	return s.principal(user), nil
}

// IsAdministrator reports whether the email is on the administrator list.
func (s *Service) IsAdministrator(email string) bool {
	_, ok := s.adminEmails[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

func (s *Service) principal(user *User) rbac.Principal {
	return rbac.Principal{
		ID:              user.ID,
		Email:           user.Email,
		EmailVerified:   user.EmailVerified,
		IsAdministrator: s.IsAdministrator(user.Email),
		IsActive:        user.IsActive,
	}
}

var _ rbac.PrincipalSource = (*Service)(nil)
