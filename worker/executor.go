// Package worker provides the execution half of the engine: an Executor
// that runs one attempt through middleware and the registered handler,
// and a Pool of goroutines that drain the priority lanes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/backoff"
	"github.com/triagehq/triage/dlq"
	"github.com/triagehq/triage/ext"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
	"github.com/triagehq/triage/middleware"
	"github.com/triagehq/triage/retry"
	"github.com/triagehq/triage/track"
)

// Executor runs a single attempt: it claims the record through the
// tracker, invokes the handler through the middleware chain under a hard
// timeout, and resolves the outcome into completed, retrying, or
// dead-lettered. Terminal callbacks are invoked after the tracker lock is
// released.
type Executor struct {
	registry   *job.Registry
	tracker    *track.Tracker
	store      job.Store
	dlqService *dlq.Service
	scheduler  *retry.Scheduler
	strategy   backoff.Strategy
	extensions *ext.Registry
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	tracker *track.Tracker,
	store job.Store,
	dlqService *dlq.Service,
	scheduler *retry.Scheduler,
	strategy backoff.Strategy,
	extensions *ext.Registry,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		tracker:    tracker,
		store:      store,
		dlqService: dlqService,
		scheduler:  scheduler,
		strategy:   strategy,
		extensions: extensions,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs one attempt for the dequeued job id. A record cancelled
// between dequeue and dispatch fails the running transition and is
// skipped without executing; every other outcome is resolved internally,
// so a nil return means the attempt was fully accounted for.
func (e *Executor) Execute(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	rec, err := e.tracker.MarkRunning(jobID, workerID)
	if err != nil {
		if errors.Is(err, triage.ErrInvalidTransition) {
			e.logger.Debug("skipping dequeued job",
				slog.String("job_id", jobID.String()),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}

	e.persist(ctx, rec)
	e.extensions.EmitJobStarted(ctx, rec)

	start := time.Now()
	result, attemptErr := e.runAttempt(ctx, rec)
	elapsed := time.Since(start)

	if attemptErr != nil {
		e.resolveFailure(ctx, rec, attemptErr)
		return nil
	}
	return e.resolveSuccess(ctx, rec.ID, result, elapsed)
}

// runAttempt invokes the handler through the middleware chain in its own
// goroutine and waits for the first of: the attempt finishing, the hard
// timeout expiring, or the attempt context being cancelled. After a hard
// stop the handler's eventual return value is discarded.
func (e *Executor) runAttempt(ctx context.Context, rec *job.Record) ([]byte, error) {
	handler, ok := e.registry.Get(rec.Type)
	if !ok {
		// Sealing makes this unreachable for submitted jobs; only records
		// recovered from an older deployment can lose their handler.
		return nil, fmt.Errorf("%w: %s", triage.ErrUnknownJobType, rec.Type)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result []byte
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		out.err = e.mw(attemptCtx, rec, func(hctx context.Context) error {
			res, hErr := handler(hctx, rec.Payload)
			if hErr != nil {
				return hErr
			}
			out.result = res
			return nil
		})
		done <- out
	}()

	var timerC <-chan time.Time
	if rec.Timeout > 0 {
		timer := time.NewTimer(rec.Timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case out := <-done:
		return out.result, out.err
	case <-timerC:
		cancel()
		return nil, triage.ErrJobTimeout
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// resolveSuccess transitions running → completed and fans out the result.
func (e *Executor) resolveSuccess(ctx context.Context, jobID id.JobID, result []byte, elapsed time.Duration) error {
	rec, callback, err := e.tracker.MarkCompleted(jobID, result)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}

	e.persist(ctx, rec)
	e.extensions.EmitJobCompleted(ctx, rec, elapsed)
	if callback != nil {
		callback(rec)
	}

	e.logger.Debug("job completed",
		slog.String("job_id", rec.ID.String()),
		slog.String("job_type", rec.Type),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// resolveFailure charges the failed attempt against the budget and either
// schedules a retry or dead-letters the record.
func (e *Executor) resolveFailure(ctx context.Context, rec *job.Record, attemptErr error) {
	failure := failureString(attemptErr)

	if rec.AttemptCount < rec.MaxAttempts {
		e.scheduleRetry(ctx, rec, failure)
		return
	}
	e.deadLetter(ctx, rec, failure, attemptErr)
}

// scheduleRetry transitions the record to retrying with a backoff delay
// and arms the retry scheduler.
func (e *Executor) scheduleRetry(ctx context.Context, rec *job.Record, failure string) {
	delay := e.strategy.Delay(rec.AttemptCount)
	runAt := time.Now().UTC().Add(delay)

	snap, err := e.tracker.MarkRetrying(rec.ID, failure, runAt)
	if err != nil {
		e.logger.Error("retry transition failed",
			slog.String("job_id", rec.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	e.persist(ctx, snap)
	e.scheduler.Schedule(snap.ID, snap.Priority, runAt)
	e.extensions.EmitJobRetrying(ctx, snap, snap.AttemptCount, runAt)

	e.logger.Info("attempt failed, retry scheduled",
		slog.String("job_id", snap.ID.String()),
		slog.String("job_type", snap.Type),
		slog.Int("attempt", snap.AttemptCount),
		slog.Int("max_attempts", snap.MaxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", failure),
	)
}

// deadLetter transitions the record to its dead-lettered terminal state
// and archives it. Archive failures are logged, never raised: the record
// is terminal either way and the in-memory state is authoritative.
func (e *Executor) deadLetter(ctx context.Context, rec *job.Record, failure string, attemptErr error) {
	snap, callback, err := e.tracker.MarkDeadLettered(rec.ID, failure)
	if err != nil {
		e.logger.Error("dead-letter transition failed",
			slog.String("job_id", rec.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	e.persist(ctx, snap)

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, snap, failure); dlqErr != nil {
			e.logger.Error("dead-letter archive failed",
				slog.String("job_id", snap.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.extensions.EmitJobDeadLettered(ctx, snap, attemptErr)
	if callback != nil {
		callback(snap)
	}

	e.logger.Warn("job dead-lettered",
		slog.String("job_id", snap.ID.String()),
		slog.String("job_type", snap.Type),
		slog.Int("attempts", snap.AttemptCount),
		slog.String("error", failure),
	)
}

// persist mirrors the tracker's state into the durable store. Write
// failures are logged and swallowed: the tracker owns the live state and
// startup recovery reconciles the store.
func (e *Executor) persist(ctx context.Context, rec *job.Record) {
	if err := e.store.UpdateJob(ctx, rec); err != nil {
		e.logger.Error("state write failed",
			slog.String("job_id", rec.ID.String()),
			slog.String("state", string(rec.State)),
			slog.String("error", err.Error()),
		)
	}
}

// failureString records a blown attempt budget as the bare string
// "timeout" whether the hard timer or the cooperative deadline tripped
// first; every other failure keeps its error message.
func failureString(err error) string {
	if errors.Is(err, triage.ErrJobTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}
