package jobs_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/taskdesk/taskdesk/jobs"
)

type stubLister struct {
	summaries []jobs.DueSummary
	window    time.Duration
	fail      error
}

func (s *stubLister) ListDueSoon(ctx context.Context, within time.Duration) ([]jobs.DueSummary, error) {
	s.window = within
	return s.summaries, s.fail
}

type stubEnqueuer struct {
	sent []jobs.SendEmailPayload
	fail error
}

func (s *stubEnqueuer) EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	s.sent = append(s.sent, payload)
	return &asynq.TaskInfo{}, nil
}

func TestDueScanEnqueuesReminders(t *testing.T) {
	lister := &stubLister{summaries: []jobs.DueSummary{
		{OwnerEmail: "a@test.local", Count: 2},
		{OwnerEmail: "b@test.local", Count: 1},
	}}
	enqueuer := &stubEnqueuer{}
	handler := jobs.NewDueScanHandler(lister, enqueuer, nil)

	task, err := jobs.NewDueScanTask(time.Now(), 12*time.Hour)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := handler(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if lister.window != 12*time.Hour {
		t.Fatalf("expected 12h window, got %s", lister.window)
	}
	if len(enqueuer.sent) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(enqueuer.sent))
	}
	if enqueuer.sent[0].To != "a@test.local" || !strings.Contains(enqueuer.sent[0].Body, "2 task(s)") {
		t.Fatalf("unexpected reminder: %+v", enqueuer.sent[0])
	}
}

func TestDueScanDefaultsWindow(t *testing.T) {
	lister := &stubLister{}
	handler := jobs.NewDueScanHandler(lister, &stubEnqueuer{}, nil)

	task := asynq.NewTask(jobs.TaskTypeDueScan, []byte(`{}`))
	if err := handler(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if lister.window != 24*time.Hour {
		t.Fatalf("expected default 24h window, got %s", lister.window)
	}
}

func TestDueScanSkipsRetryOnBadPayload(t *testing.T) {
	handler := jobs.NewDueScanHandler(&stubLister{}, &stubEnqueuer{}, nil)
	task := asynq.NewTask(jobs.TaskTypeDueScan, []byte(`{not json`))
	if err := handler(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestDueScanPropagatesEnqueueError(t *testing.T) {
	lister := &stubLister{summaries: []jobs.DueSummary{{OwnerEmail: "a@test.local", Count: 1}}}
	enqueuer := &stubEnqueuer{fail: errors.New("redis down")}
	handler := jobs.NewDueScanHandler(lister, enqueuer, nil)

	task, _ := jobs.NewDueScanTask(time.Now(), time.Hour)
	if err := handler(context.Background(), task); err == nil {
		t.Fatalf("expected error when enqueue fails")
	}
}

type stubPruner struct {
	auditCutoff     time.Time
	auditDeleted    int64
	sessionsDeleted int64
	fail            error
}

func (s *stubPruner) PruneAuditLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	s.auditCutoff = cutoff
	return s.auditDeleted, s.fail
}

func (s *stubPruner) PruneExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessionsDeleted, s.fail
}

func TestAuditRetentionUsesKeepDays(t *testing.T) {
	pruner := &stubPruner{auditDeleted: 12}
	handler := jobs.NewAuditRetentionHandler(pruner, nil)

	task, err := jobs.NewAuditRetentionTask(30)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := handler(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	want := time.Now().UTC().AddDate(0, 0, -30)
	if diff := want.Sub(pruner.auditCutoff); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff not ~30 days back: %s", pruner.auditCutoff)
	}
}

func TestAuditRetentionDefaultsTo90Days(t *testing.T) {
	pruner := &stubPruner{}
	handler := jobs.NewAuditRetentionHandler(pruner, nil)

	task, _ := jobs.NewAuditRetentionTask(0)
	if err := handler(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	want := time.Now().UTC().AddDate(0, 0, -90)
	if diff := want.Sub(pruner.auditCutoff); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff not ~90 days back: %s", pruner.auditCutoff)
	}
}

func TestSessionCleanupHandler(t *testing.T) {
	pruner := &stubPruner{sessionsDeleted: 3}
	handler := jobs.NewSessionCleanupHandler(pruner, nil)
	if err := handler(context.Background(), jobs.NewSessionCleanupTask()); err != nil {
		t.Fatalf("handle: %v", err)
	}

	pruner.fail = errors.New("db down")
	if err := handler(context.Background(), jobs.NewSessionCleanupTask()); err == nil {
		t.Fatalf("expected error from failing pruner")
	}
}

type stubSender struct {
	sent []jobs.SendEmailPayload
	fail error
}

func (s *stubSender) Send(ctx context.Context, payload jobs.SendEmailPayload) error {
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, payload)
	return nil
}

func TestSendEmailHandlerDelivers(t *testing.T) {
	sender := &stubSender{}
	handler := jobs.NewSendEmailHandler(sender, nil)

	task, err := jobs.NewSendEmailTask(jobs.SendEmailPayload{To: "a@test.local", Subject: "reminder", Body: "due soon"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := handler(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].To != "a@test.local" {
		t.Fatalf("unexpected deliveries: %+v", sender.sent)
	}

	sender.fail = errors.New("relay down")
	if err := handler(context.Background(), task); err == nil {
		t.Fatal("expected delivery error to propagate for retry")
	}
}

func TestSendEmailHandlerRejectsMalformedPayload(t *testing.T) {
	sender := &stubSender{}
	handler := jobs.NewSendEmailHandler(sender, nil)

	err := handler(context.Background(), asynq.NewTask(jobs.TaskTypeSendEmail, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("no delivery must happen on malformed payload")
	}
}
