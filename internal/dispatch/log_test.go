package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-esd/migrations"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteCommandLog(t *testing.T) {
	db := setupTestDB(t)
	log := NewSQLiteCommandLog(db.DB)
	ctx := context.Background()

	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cmd := Command{ID: "c-1", ExecutionID: "exec-1", StepID: "s1", Type: TypeValve, TargetPoint: "XV-101", Value: "closed"}

	if err := log.RecordAttempt(ctx, Attempt{Command: cmd, Attempt: 1, Outcome: OutcomeTimeout, Reason: "no ack", SentAt: sent, CompletedAt: sent.Add(5 * time.Second)}); err != nil {
		t.Fatalf("RecordAttempt(1) error = %v", err)
	}
	if err := log.RecordAttempt(ctx, Attempt{Command: cmd, Attempt: 2, Outcome: OutcomeAcked, SentAt: sent.Add(6 * time.Second), CompletedAt: sent.Add(6 * time.Second)}); err != nil {
		t.Fatalf("RecordAttempt(2) error = %v", err)
	}

	// Same (id, attempt) twice violates the primary key.
	if err := log.RecordAttempt(ctx, Attempt{Command: cmd, Attempt: 2, Outcome: OutcomeAcked, SentAt: sent, CompletedAt: sent}); err == nil {
		t.Error("duplicate attempt accepted")
	}

	got, err := log.ListByExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListByExecution() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("attempts = %d, want 2", len(got))
	}
	if got[0].Outcome != OutcomeTimeout || got[0].Reason != "no ack" || got[0].Value != "closed" {
		t.Errorf("first attempt = %+v", got[0])
	}
	if got[1].Attempt != 2 || !got[1].SentAt.Equal(sent.Add(6*time.Second)) {
		t.Errorf("second attempt = %+v", got[1])
	}
}
