package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskTypeDueScan triggers the periodic scan for tasks approaching their
// due date. Each affected owner gets one reminder email enqueued.
const TaskTypeDueScan = "todos:due_scan"

// DueScanPayload carries scheduling metadata.
type DueScanPayload struct {
	ScheduledFor time.Time     `json:"scheduled_for"`
	Window       time.Duration `json:"window"`
}

// NewDueScanTask constructs an Asynq task for the due-date scan.
func NewDueScanTask(at time.Time, window time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(DueScanPayload{ScheduledFor: at, Window: window})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDueScan, body, asynq.Queue(QueueDefault)), nil
}

// DueSummary aggregates the open tasks of one owner that fall due inside
// the scan window.
type DueSummary struct {
	OwnerEmail string
	Count      int
}

// DueLister reads upcoming due tasks. Implemented by PGDueLister.
type DueLister interface {
	ListDueSoon(ctx context.Context, within time.Duration) ([]DueSummary, error)
}

// Enqueuer submits follow-up jobs. Implemented by Client.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// PGDueLister reads due summaries from postgres.
type PGDueLister struct {
	pool *pgxpool.Pool
}

// NewDueLister constructs a PGDueLister.
func NewDueLister(pool *pgxpool.Pool) *PGDueLister {
	return &PGDueLister{pool: pool}
}

// ListDueSoon returns one row per owner with open tasks due inside the window.
func (l *PGDueLister) ListDueSoon(ctx context.Context, within time.Duration) ([]DueSummary, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT u.email, COUNT(*)
		 FROM todos t
		 JOIN users u ON u.id = t.owner_id
		 WHERE t.status <> 'completed'
		   AND t.due_at IS NOT NULL
		   AND t.due_at BETWEEN NOW() AND NOW() + $1
		   AND u.is_active
		 GROUP BY u.email`, within)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DueSummary
	for rows.Next() {
		var s DueSummary
		if err := rows.Scan(&s.OwnerEmail, &s.Count); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// NewDueScanHandler builds the handler for TaskTypeDueScan.
func NewDueScanHandler(lister DueLister, enqueuer Enqueuer, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload DueScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		window := payload.Window
		if window <= 0 {
			window = 24 * time.Hour
		}
		summaries, err := lister.ListDueSoon(ctx, window)
		if err != nil {
			return err
		}
		for _, summary := range summaries {
			_, err := enqueuer.EnqueueSendEmail(ctx, SendEmailPayload{
				To:      summary.OwnerEmail,
				Subject: "Tasks due soon",
				Body:    fmt.Sprintf("You have %d task(s) due within %s.", summary.Count, window),
			})
			if err != nil {
				logger.Error("enqueue reminder", slog.String("to", summary.OwnerEmail), slog.Any("error", err))
				return err
			}
		}
		logger.Info("due scan complete", slog.Int("owners", len(summaries)))
		return nil
	}
}
