package dlq

import (
	"context"
	"time"

	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// RequeueFunc re-submits a replayed record through the engine's normal
// submission path. Injected so this package does not import the engine.
type RequeueFunc func(ctx context.Context, rec *job.Record) error

// Service provides high-level dead-letter operations over a Store.
type Service struct {
	store   Store
	requeue RequeueFunc
}

// NewService creates a dead-letter service. requeue may be nil if Replay
// is never used (for example in read-only inspection tools).
func NewService(store Store, requeue RequeueFunc) *Service {
	return &Service{store: store, requeue: requeue}
}

// Push archives a record that exhausted its attempt budget. The failure
// string is the final handler error.
func (s *Service) Push(ctx context.Context, rec *job.Record, failure string) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:           id.NewDLQID(),
		JobID:        rec.ID,
		JobType:      rec.Type,
		Priority:     rec.Priority,
		Payload:      rec.Payload,
		Error:        failure,
		AttemptCount: rec.AttemptCount,
		MaxAttempts:  rec.MaxAttempts,
		FailedAt:     now,
		CreatedAt:    now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// Store returns the underlying archive store for direct access to List,
// Get, Purge, and Count operations.
func (s *Service) Store() Store {
	return s.store
}
