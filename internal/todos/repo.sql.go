package todos

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskdesk/taskdesk/internal/shared"
)

// PGRepository provides PostgreSQL backed persistence for tasks.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const todoColumns = `id, owner_id, title, description, status, priority, due_at, created_at, updated_at`

func scanTodo(row pgx.Row) (Todo, error) {
	var todo Todo
	err := row.Scan(&todo.ID, &todo.OwnerID, &todo.Title, &todo.Description, &todo.Status, &todo.Priority, &todo.DueAt, &todo.CreatedAt, &todo.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Todo{}, shared.ErrNotFound
		}
		return Todo{}, err
	}
	return todo, nil
}

// ListTodos returns one page of tasks plus the unpaged total.
func (r *PGRepository) ListTodos(ctx context.Context, q ListQuery) ([]Todo, int, error) {
	where := ` WHERE ($1 = 0 OR owner_id = $1)
	             AND ($2 = '' OR status = $2)
	             AND ($3 = '' OR priority = $3)`

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM todos`+where, q.OwnerID, string(q.Status), string(q.Priority)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("todos: count: %w", err)
	}

	page := shared.NewPagination(q.Page, q.PerPage, total)
	rows, err := r.pool.Query(ctx,
		`SELECT `+todoColumns+` FROM todos`+where+` ORDER BY created_at DESC, id LIMIT $4 OFFSET $5`,
		q.OwnerID, string(q.Status), string(q.Priority), page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("todos: list: %w", err)
	}
	defer rows.Close()

	var out []Todo
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, todo)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// GetTodo fetches a task by id.
func (r *PGRepository) GetTodo(ctx context.Context, id string) (Todo, error) {
	return scanTodo(r.pool.QueryRow(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = $1`, id))
}

// CreateTodo inserts a task.
func (r *PGRepository) CreateTodo(ctx context.Context, todo Todo) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO todos (id, owner_id, title, description, status, priority, due_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		todo.ID, todo.OwnerID, todo.Title, todo.Description, string(todo.Status), string(todo.Priority), todo.DueAt, todo.CreatedAt, todo.UpdatedAt)
	return err
}

// UpdateTodo rewrites a task row.
func (r *PGRepository) UpdateTodo(ctx context.Context, todo Todo) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE todos SET title = $2, description = $3, status = $4, priority = $5, due_at = $6, updated_at = $7 WHERE id = $1`,
		todo.ID, todo.Title, todo.Description, string(todo.Status), string(todo.Priority), todo.DueAt, todo.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteTodo removes a task row.
func (r *PGRepository) DeleteTodo(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM todos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
