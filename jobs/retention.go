package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// TaskTypeAuditRetention prunes audit_logs rows past the retention window.
	TaskTypeAuditRetention = "audit:retention"
	// TaskTypeSessionCleanup removes expired session rows from postgres.
	// Redis entries expire on their own; this keeps the audit copy bounded.
	TaskTypeSessionCleanup = "sessions:cleanup"
)

// RetentionPayload carries the retention window in days.
type RetentionPayload struct {
	KeepDays int `json:"keep_days"`
}

// NewAuditRetentionTask constructs an Asynq task for audit pruning.
func NewAuditRetentionTask(keepDays int) (*asynq.Task, error) {
	body, err := json.Marshal(RetentionPayload{KeepDays: keepDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditRetention, body, asynq.Queue(QueueDefault)), nil
}

// NewSessionCleanupTask constructs an Asynq task for session cleanup.
func NewSessionCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSessionCleanup, nil, asynq.Queue(QueueDefault))
}

// Pruner deletes aged rows. Implemented by PGPruner.
type Pruner interface {
	PruneAuditLogs(ctx context.Context, cutoff time.Time) (int64, error)
	PruneExpiredSessions(ctx context.Context) (int64, error)
}

// PGPruner implements retention deletes on postgres.
type PGPruner struct {
	pool *pgxpool.Pool
}

// NewPruner constructs a PGPruner.
func NewPruner(pool *pgxpool.Pool) *PGPruner {
	return &PGPruner{pool: pool}
}

// PruneAuditLogs deletes audit rows older than the cutoff.
func (p *PGPruner) PruneAuditLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PruneExpiredSessions deletes session rows whose expiry has passed.
func (p *PGPruner) PruneExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// NewAuditRetentionHandler builds the handler for TaskTypeAuditRetention.
func NewAuditRetentionHandler(pruner Pruner, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RetentionPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		keep := payload.KeepDays
		if keep <= 0 {
			keep = 90
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -keep)
		deleted, err := pruner.PruneAuditLogs(ctx, cutoff)
		if err != nil {
			return err
		}
		logger.Info("audit retention complete", slog.Int64("deleted", deleted), slog.Time("cutoff", cutoff))
		return nil
	}
}

// NewSessionCleanupHandler builds the handler for TaskTypeSessionCleanup.
func NewSessionCleanupHandler(pruner Pruner, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		deleted, err := pruner.PruneExpiredSessions(ctx)
		if err != nil {
			return err
		}
		logger.Info("session cleanup complete", slog.Int64("deleted", deleted))
		return nil
	}
}
