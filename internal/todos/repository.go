package todos

import "context"

// Repository defines persistence for tasks.
type Repository interface {
	ListTodos(ctx context.Context, q ListQuery) ([]Todo, int, error)
	GetTodo(ctx context.Context, id string) (Todo, error)
	CreateTodo(ctx context.Context, todo Todo) error
	UpdateTodo(ctx context.Context, todo Todo) error
	DeleteTodo(ctx context.Context, id string) error
}
