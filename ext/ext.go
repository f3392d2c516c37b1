// Package ext defines the extension system for Triage.
// Extensions are notified of job lifecycle events (enqueued, started,
// completed, dead-lettered, etc.) and can react to them — event
// streaming, auditing, metrics export.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. Hooks run synchronously on the engine
// path after the state transition has been recorded and outside any
// engine lock; hook errors are logged and never propagated.
package ext

import (
	"context"
	"time"

	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is accepted and queued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, rec *job.Record) error
}

// JobStarted is called when a worker begins an execution attempt.
type JobStarted interface {
	OnJobStarted(ctx context.Context, rec *job.Record) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, rec *job.Record, elapsed time.Duration) error
}

// JobRetrying is called when an attempt fails and a retry is scheduled.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, rec *job.Record, attempt int, nextRunAt time.Time) error
}

// JobDeadLettered is called when a job exhausts its attempts and is
// moved to the dead letter queue.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, rec *job.Record, err error) error
}

// JobCancelled is called when a queued job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, rec *job.Record) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CronFired is called when a cron entry fires and enqueues a job.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
