package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const roleColumns = `id, name, description, permissions, is_system, is_default, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.Permissions, &role.IsSystem, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// ListRoles returns all roles, system roles first, then by creation time.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY is_system DESC, created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by id.
func (r *PGRepository) GetRole(ctx context.Context, id string) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// DefaultRole fetches the role marked as default.
func (r *PGRepository) DefaultRole(ctx context.Context) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE is_default LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a role. Name collisions map to ErrDuplicateRole.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO roles (id, name, description, permissions, is_system, is_default, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		role.ID, role.Name, role.Description, role.Permissions, role.IsSystem, role.IsDefault, role.CreatedAt, role.UpdatedAt)
	return mapRoleWriteErr(err)
}

// UpdateRole rewrites the mutable columns of a role.
func (r *PGRepository) UpdateRole(ctx context.Context, role Role) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE roles SET name = $2, description = $3, permissions = $4, updated_at = $5 WHERE id = $1`,
		role.ID, role.Name, role.Description, role.Permissions, role.UpdatedAt)
	if err != nil {
		return mapRoleWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRole removes a role by id.
func (r *PGRepository) DeleteRole(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestAssignment returns the newest assignment row for the user.
func (r *PGRepository) LatestAssignment(ctx context.Context, userID int64) (Assignment, error) {
	var a Assignment
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, role_id, assigned_by, assigned_at, expires_at
		 FROM role_assignments WHERE user_id = $1 ORDER BY assigned_at DESC, id DESC LIMIT 1`,
		userID).Scan(&a.ID, &a.UserID, &a.RoleID, &a.AssignedBy, &a.AssignedAt, &a.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, err
	}
	return a, nil
}

// ReplaceAssignment appends the assignment to history and denormalises the
// current role onto the user row in one transaction, so readers of either
// representation observe the same role.
func (r *PGRepository) ReplaceAssignment(ctx context.Context, assignment Assignment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO role_assignments (id, user_id, role_id, assigned_by, assigned_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		assignment.ID, assignment.UserID, assignment.RoleID, assignment.AssignedBy, assignment.AssignedAt, assignment.ExpiresAt); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE users SET role_id = $2, role_assigned_by = $3, role_assigned_at = $4, updated_at = NOW() WHERE id = $1`,
		assignment.UserID, assignment.RoleID, assignment.AssignedBy, assignment.AssignedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// CountActiveAssignments counts users whose authoritative assignment
// references roleID and has not lapsed.
func (r *PGRepository) CountActiveAssignments(ctx context.Context, roleID string, now time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM (
			SELECT DISTINCT ON (user_id) role_id, expires_at
			FROM role_assignments
			ORDER BY user_id, assigned_at DESC, id DESC
		) latest
		WHERE latest.role_id = $1 AND (latest.expires_at IS NULL OR latest.expires_at > $2)`,
		roleID, now).Scan(&count)
	return count, err
}

// UserActive reports whether the account exists and is active.
func (r *PGRepository) UserActive(ctx context.Context, userID int64) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT is_active FROM users WHERE id = $1`, userID).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return active, nil
}

func mapRoleWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateRole
	}
	return err
}
