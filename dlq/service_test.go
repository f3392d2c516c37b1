package dlq_test

import (
	"context"
	"testing"
	"time"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/dlq"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
	"github.com/triagehq/triage/store/memory"
)

func exhaustedRecord(jobType string, payload []byte) *job.Record {
	started := time.Now().UTC().Add(-time.Minute)
	done := time.Now().UTC()
	return &job.Record{
		Entity:       triage.NewEntity(),
		ID:           id.NewJobID(),
		Type:         jobType,
		Payload:      payload,
		Priority:     job.PriorityHigh,
		State:        job.StateDeadLettered,
		AttemptCount: 3,
		MaxAttempts:  3,
		LastError:    "smtp timeout",
		RunAt:        started,
		StartedAt:    &started,
		CompletedAt:  &done,
	}
}

func TestService_Push_BuildsEntryFromRecord(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil)
	ctx := context.Background()

	rec := exhaustedRecord("send-email", []byte(`{"to":"alice@example.com"}`))
	if err := svc.Push(ctx, rec, "smtp timeout"); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.JobID != rec.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, rec.ID)
	}
	if entry.JobType != "send-email" {
		t.Errorf("JobType = %q, want send-email", entry.JobType)
	}
	if entry.Priority != job.PriorityHigh {
		t.Errorf("Priority = %v, want high", entry.Priority)
	}
	if entry.Error != "smtp timeout" {
		t.Errorf("Error = %q, want smtp timeout", entry.Error)
	}
	if entry.AttemptCount != 3 || entry.MaxAttempts != 3 {
		t.Errorf("attempts = %d/%d, want 3/3", entry.AttemptCount, entry.MaxAttempts)
	}
	if entry.ReplayedAt != nil {
		t.Error("fresh entry should not be marked replayed")
	}
	if entry.ID.Prefix() != id.PrefixDLQ {
		t.Errorf("entry id prefix = %q, want dlq", entry.ID.Prefix())
	}
}

func TestService_Replay(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	var requeued *job.Record
	svc := dlq.NewService(s, func(_ context.Context, rec *job.Record) error {
		requeued = rec
		return nil
	})

	orig := exhaustedRecord("send-email", []byte(`{"to":"bob@example.com"}`))
	if err := svc.Push(ctx, orig, "smtp timeout"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, _ := s.ListDLQ(ctx, dlq.ListOpts{})
	entryID := entries[0].ID

	fresh, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if requeued == nil {
		t.Fatal("requeue function was not invoked")
	}
	if fresh.ID == orig.ID {
		t.Error("replayed job must get a fresh ID")
	}
	if fresh.AttemptCount != 0 {
		t.Errorf("attempt count = %d, want 0", fresh.AttemptCount)
	}
	if fresh.State != job.StatePending {
		t.Errorf("state = %s, want pending", fresh.State)
	}
	if fresh.Type != orig.Type {
		t.Errorf("type = %q, want %q", fresh.Type, orig.Type)
	}
	if fresh.Priority != orig.Priority {
		t.Errorf("priority = %v, want %v", fresh.Priority, orig.Priority)
	}
	if string(fresh.Payload) != string(orig.Payload) {
		t.Errorf("payload = %s, want %s", fresh.Payload, orig.Payload)
	}

	replayed, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if replayed.ReplayedAt == nil {
		t.Error("entry should be stamped as replayed")
	}
}

func TestService_Replay_UnknownEntry(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, func(context.Context, *job.Record) error { return nil })

	if _, err := svc.Replay(context.Background(), id.NewDLQID()); err == nil {
		t.Fatal("expected error replaying unknown entry")
	}
}

func TestService_Replay_NoRequeue(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil)

	if _, err := svc.Replay(context.Background(), id.NewDLQID()); err == nil {
		t.Fatal("expected error when no requeue function is configured")
	}
}
