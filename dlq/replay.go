package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// Replay re-submits a dead-lettered entry as a new pending job and stamps
// the entry as replayed. The new job gets a fresh ID, a reset attempt
// budget, the original type, payload, and priority, and runs immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Record, error) {
	if s.requeue == nil {
		return nil, errors.New("triage: dlq service has no requeue function")
	}

	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	rec := &job.Record{
		Entity:      triage.NewEntity(),
		ID:          id.NewJobID(),
		Type:        entry.JobType,
		Payload:     entry.Payload,
		Priority:    entry.Priority,
		State:       job.StatePending,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       time.Now().UTC(),
	}

	if err := s.requeue(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already queued; surface the bookkeeping failure
		// without undoing the replay.
		return rec, err
	}

	return rec, nil
}
