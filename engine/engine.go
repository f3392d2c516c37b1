package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/backoff"
	"github.com/triagehq/triage/cron"
	"github.com/triagehq/triage/dlq"
	"github.com/triagehq/triage/ext"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
	"github.com/triagehq/triage/lane"
	mw "github.com/triagehq/triage/middleware"
	"github.com/triagehq/triage/retry"
	"github.com/triagehq/triage/store"
	"github.com/triagehq/triage/store/memory"
	"github.com/triagehq/triage/track"
	"github.com/triagehq/triage/worker"
)

// instrumentationName identifies this module to OpenTelemetry providers.
const instrumentationName = "github.com/triagehq/triage"

// Engine is the composition root: it owns the lanes, the tracker, the
// handler registry, the worker pool, and both schedulers, and exposes
// the submission API.
type Engine struct {
	cfg    triage.Config
	logger *slog.Logger
	store  store.Store

	lanes      *lane.Set
	tracker    *track.Tracker
	registry   *job.Registry
	extensions *ext.Registry
	dlqService *dlq.Service
	retries    *retry.Scheduler
	crons      *cron.Scheduler
	pool       *worker.Pool

	bo       backoff.Strategy
	throttle *lane.Throttle
	mws      []mw.Middleware

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// typeOpts holds per-type default options captured from typed
	// definitions at registration time. Read on every submission.
	optsMu   sync.RWMutex
	typeOpts map[string]job.Options

	// staged collects extensions passed as options before the registry
	// exists; New drains it.
	staged []ext.Extension

	mu      sync.Mutex
	started bool
	stopped atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine) error

// WithConfig replaces the entire configuration.
func WithConfig(cfg triage.Config) Option {
	return func(e *Engine) error {
		e.cfg = cfg
		return nil
	}
}

// WithStore sets the durable backend. Without it the engine runs on the
// in-memory store and loses all state on exit.
func WithStore(s store.Store) Option {
	return func(e *Engine) error {
		if s == nil {
			return triage.ErrNoStore
		}
		e.store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) error {
		e.cfg.Workers = n
		return nil
	}
}

// WithBackoff sets the retry delay strategy. The default is pure
// exponential from the configured base and cap.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) error {
		e.bo = b
		return nil
	}
}

// WithMiddleware appends middleware to the execution chain, inside the
// built-in stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) error {
		e.mws = append(e.mws, m)
		return nil
	}
}

// WithExtension registers a lifecycle extension.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) error {
		e.staged = append(e.staged, x)
		return nil
	}
}

// WithThrottle paces dispatch per lane. Pacing never reorders lanes.
func WithThrottle(limits ...lane.Limit) Option {
	return func(e *Engine) error {
		e.throttle = lane.NewThrottle(limits...)
		return nil
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. The global provider is used when unset.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) error {
		e.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. The global provider is used when unset.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) error {
		e.meterProvider = mp
		return nil
	}
}

// New creates an Engine. The configuration is validated eagerly so a
// misconfigured engine never reaches Start.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      triage.DefaultConfig(),
		logger:   slog.Default(),
		typeOpts: make(map[string]job.Options),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	if e.store == nil {
		e.store = memory.New()
	}
	if e.bo == nil {
		e.bo = backoff.NewExponential(e.cfg.BaseDelay, e.cfg.MaxDelay)
	}

	e.lanes = lane.NewSet()
	e.tracker = track.New(e.cfg.MetricsWindow, e.lanes.Depths)
	e.registry = job.NewRegistry()

	e.extensions = ext.NewRegistry(e.logger)
	for _, x := range e.staged {
		e.extensions.Register(x)
	}
	e.staged = nil

	e.dlqService = dlq.NewService(e.store, e.resubmit)
	e.retries = retry.NewScheduler(e.release, retry.WithLogger(e.logger))
	e.crons = cron.NewScheduler(e.Submit, e.extensions, cron.WithLogger(e.logger))

	tracingMw := mw.Tracing()
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer(instrumentationName))
	}
	metricsMw := mw.Metrics()
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter(instrumentationName))
	}

	// Built-in stack, outermost first; user middleware runs inside it.
	stack := []mw.Middleware{
		mw.Recover(e.logger),
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
		mw.Timeout(e.logger),
	}
	stack = append(stack, e.mws...)

	executor := worker.NewExecutor(
		e.registry, e.tracker, e.store, e.dlqService, e.retries,
		e.bo, e.extensions, e.logger, stack...,
	)

	poolOpts := []worker.PoolOption{
		worker.WithPoolSize(e.cfg.Workers),
		worker.WithPollInterval(e.cfg.PollInterval),
	}
	if e.throttle != nil {
		poolOpts = append(poolOpts, worker.WithThrottle(e.throttle))
	}
	e.pool = worker.NewPool(e.lanes, executor, e.logger, poolOpts...)

	return e, nil
}

// ──────────────────────────────────────────────────
// Submission API
// ──────────────────────────────────────────────────

// Submit accepts a job for processing and returns its id immediately.
// The job type must have a registered handler. Submission is
// fail-closed: if the durable store rejects the write, the job is not
// accepted.
func (e *Engine) Submit(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error) {
	if e.stopped.Load() {
		return id.JobID{}, triage.ErrEngineStopped
	}
	if !e.registry.Has(jobType) {
		return id.JobID{}, fmt.Errorf("%w: %q", triage.ErrUnknownJobType, jobType)
	}

	o := e.defaultOptions(jobType)
	for _, opt := range opts {
		opt(&o)
	}
	if !o.Priority.Valid() {
		return id.JobID{}, fmt.Errorf("%w: %d", triage.ErrInvalidPriority, int(o.Priority))
	}
	if o.MaxAttempts < 1 {
		return id.JobID{}, fmt.Errorf("triage: max attempts must be >= 1, got %d", o.MaxAttempts)
	}

	now := time.Now().UTC()
	runAt := now
	if !o.RunAt.IsZero() {
		runAt = o.RunAt.UTC()
	}

	rec := &job.Record{
		Entity:      triage.NewEntity(),
		ID:          id.NewJobID(),
		Type:        jobType,
		Payload:     json.RawMessage(payload),
		Priority:    o.Priority,
		State:       job.StatePending,
		MaxAttempts: o.MaxAttempts,
		Timeout:     o.Timeout,
		RunAt:       runAt,
		Callback:    o.Callback,
	}

	if err := e.admit(ctx, rec); err != nil {
		return id.JobID{}, err
	}
	return rec.ID, nil
}

// Status returns a snapshot of the job. Records that reached a terminal
// state before the last restart live only in the store and are read
// through.
func (e *Engine) Status(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	rec, err := e.tracker.Get(jobID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, triage.ErrJobNotFound) {
		return nil, err
	}
	return e.store.GetJob(ctx, jobID)
}

// Cancel stops a job that has not started running. Only pending and
// retrying jobs cancel; running and terminal jobs report false with no
// error. Unknown ids return ErrJobNotFound.
func (e *Engine) Cancel(ctx context.Context, jobID id.JobID) (bool, error) {
	res, err := e.tracker.Cancel(jobID)
	if err != nil {
		return false, err
	}
	if !res.Cancelled {
		return false, nil
	}

	// Clear whichever structure held the queued id: the lane for pending
	// records, the delay heap for retrying or deferred ones.
	if !e.lanes.Remove(jobID) {
		e.retries.Cancel(jobID)
	}

	e.persist(ctx, res.Record)
	e.extensions.EmitJobCancelled(ctx, res.Record)
	if res.Callback != nil {
		res.Callback(res.Record)
	}

	e.logger.Info("job cancelled",
		slog.String("job_id", jobID.String()),
		slog.String("prior_state", string(res.Prior)),
	)
	return true, nil
}

// Metrics returns the current engine metrics snapshot.
func (e *Engine) Metrics() track.Snapshot {
	return e.tracker.Snapshot()
}

// Register binds a typed job definition. The definition's options
// become the per-type defaults for later submissions of that type.
func Register[T, R any](e *Engine, def *job.Definition[T, R]) error {
	if err := job.RegisterDefinition(e.registry, def); err != nil {
		return err
	}
	e.optsMu.Lock()
	e.typeOpts[def.Name] = def.Opts
	e.optsMu.Unlock()
	return nil
}

// Enqueue marshals a typed payload and submits it.
func Enqueue[T any](ctx context.Context, e *Engine, jobType string, payload T, opts ...job.Option) (id.JobID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return id.JobID{}, fmt.Errorf("marshal payload for job %q: %w", jobType, err)
	}
	return e.Submit(ctx, jobType, data, opts...)
}

// RegisterCron registers a recurring submission. The schedule is
// validated eagerly; entry names must be unique.
func RegisterCron[T any](e *Engine, def *cron.Definition[T]) error {
	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal cron payload for %q: %w", def.Name, err)
	}

	entry := &cron.Entry{
		Entity:   triage.NewEntity(),
		ID:       id.NewCronID(),
		Name:     def.Name,
		Schedule: def.Schedule,
		JobName:  def.JobName,
		Priority: def.Priority,
		Payload:  payload,
		Enabled:  true,
	}
	return e.crons.Register(entry)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start seals the handler registry, recovers persisted jobs, and starts
// the retry scheduler, the worker pool, and the cron scheduler, in that
// order. Idempotent while running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}
	if e.stopped.Load() {
		return triage.ErrEngineStopped
	}

	e.registry.Seal()

	if err := e.recoverJobs(ctx); err != nil {
		return fmt.Errorf("recover persisted jobs: %w", err)
	}

	if err := e.retries.Start(ctx); err != nil {
		return fmt.Errorf("start retry scheduler: %w", err)
	}
	if err := e.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := e.crons.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}

	e.started = true
	e.logger.Info("engine started",
		slog.Int("workers", e.cfg.Workers),
		slog.Int("job_types", len(e.registry.Names())),
	)
	return nil
}

// Stop drains the engine: intake stops first, then the delay heap, then
// the workers, bounded by the shutdown timeout when the caller's
// context carries no deadline. Queued and retrying jobs stay persisted
// and are recovered on the next Start.
func (e *Engine) Stop(ctx context.Context) error {
	if e.stopped.Swap(true) {
		return nil
	}

	e.mu.Lock()
	wasStarted := e.started
	e.started = false
	e.mu.Unlock()

	if !wasStarted {
		return e.store.Close()
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := e.crons.Stop(ctx); err != nil {
		e.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}
	if err := e.retries.Stop(ctx); err != nil {
		e.logger.Error("retry scheduler stop error", slog.String("error", err.Error()))
	}

	stopErr := e.pool.Stop(ctx)
	if stopErr != nil {
		e.logger.Error("worker pool stop error", slog.String("error", stopErr.Error()))
	}

	e.extensions.EmitShutdown(ctx)

	if err := e.store.Close(); err != nil {
		e.logger.Error("store close error", slog.String("error", err.Error()))
		if stopErr == nil {
			stopErr = err
		}
	}

	e.logger.Info("engine stopped")
	return stopErr
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Registry returns the handler registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// DLQ returns the dead-letter service for inspection and replay.
func (e *Engine) DLQ() *dlq.Service { return e.dlqService }

// Cron returns the cron scheduler for entry inspection and toggling.
func (e *Engine) Cron() *cron.Scheduler { return e.crons }

// Store returns the durable store.
func (e *Engine) Store() store.Store { return e.store }

// Config returns a copy of the engine configuration.
func (e *Engine) Config() triage.Config { return e.cfg }

// Ping checks store connectivity.
func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

// ──────────────────────────────────────────────────
// Internal plumbing
// ──────────────────────────────────────────────────

// defaultOptions seeds submission options from the registered typed
// definition, falling back to the engine configuration.
func (e *Engine) defaultOptions(jobType string) job.Options {
	e.optsMu.RLock()
	o, ok := e.typeOpts[jobType]
	e.optsMu.RUnlock()
	if ok {
		return o
	}
	return job.Options{
		MaxAttempts: e.cfg.MaxAttempts,
		Priority:    job.PriorityNormal,
		Timeout:     e.cfg.JobTimeout,
	}
}

// admit runs the shared tail of every submission path: track, persist
// fail-closed, queue, announce.
func (e *Engine) admit(ctx context.Context, rec *job.Record) error {
	if err := e.tracker.Add(rec); err != nil {
		return err
	}
	if err := e.store.SaveJob(ctx, rec); err != nil {
		e.tracker.Withdraw(rec.ID)
		return fmt.Errorf("persist job %s: %w", rec.ID, err)
	}

	snap := rec.Clone()
	if snap.RunAt.After(time.Now()) {
		e.retries.Schedule(snap.ID, snap.Priority, snap.RunAt)
	} else if err := e.lanes.Enqueue(lane.Item{JobID: snap.ID, Priority: snap.Priority}); err != nil {
		// Unreachable for fresh ids; only a duplicate submission of the
		// same id could trip it.
		e.tracker.Withdraw(snap.ID)
		return err
	}

	e.extensions.EmitJobEnqueued(ctx, snap)
	return nil
}

// resubmit is the dead-letter replay path: the record arrives fully
// formed with a fresh id and a reset budget. Archive entries carry no
// timeout, so the configured default applies.
func (e *Engine) resubmit(ctx context.Context, rec *job.Record) error {
	if e.stopped.Load() {
		return triage.ErrEngineStopped
	}
	if !e.registry.Has(rec.Type) {
		return fmt.Errorf("%w: %q", triage.ErrUnknownJobType, rec.Type)
	}
	if rec.MaxAttempts < 1 {
		rec.MaxAttempts = e.cfg.MaxAttempts
	}
	if rec.Timeout <= 0 {
		rec.Timeout = e.cfg.JobTimeout
	}
	return e.admit(ctx, rec)
}

// release is the retry scheduler's sink. Retrying records return to
// pending and re-enter the tail of their original lane; deferred
// submissions are already pending and only need the lane insert.
func (e *Engine) release(jobID id.JobID, priority job.Priority) {
	rec, err := e.tracker.Get(jobID)
	if err != nil {
		return
	}

	switch rec.State {
	case job.StateRetrying:
		snap, markErr := e.tracker.MarkPending(jobID)
		if markErr != nil {
			e.logger.Debug("released job not re-queued",
				slog.String("job_id", jobID.String()),
				slog.String("reason", markErr.Error()),
			)
			return
		}
		e.persist(context.Background(), snap)
	case job.StatePending:
		// Deferred submission whose RunAt arrived.
	default:
		// Cancelled in the window between release and this check.
		return
	}

	if err := e.lanes.Enqueue(lane.Item{JobID: jobID, Priority: priority}); err != nil {
		e.logger.Error("lane enqueue failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// recoverJobs reloads non-terminal records after a restart. Interrupted
// running records go back to their lane tail with the attempt count
// intact, or straight to the archive when the budget is already spent;
// retrying records are re-armed at their persisted ready time; pending
// records re-enter their lane tails in creation order.
func (e *Engine) recoverJobs(ctx context.Context) error {
	recs, err := e.store.ListActiveJobs(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var requeued, rearmed, lettered int
	for _, rec := range recs {
		switch rec.State {
		case job.StateRunning:
			// The process died mid-attempt. At-least-once delivery: the
			// interrupted attempt may effectively run again.
			rec.State = job.StatePending
			rec.WorkerID = id.Nil
			if err := e.tracker.Adopt(rec); err != nil {
				e.logRecoverySkip(rec, err)
				continue
			}
			if rec.AttemptCount >= rec.MaxAttempts {
				e.deadLetterRecovered(ctx, rec)
				lettered++
				continue
			}
			if err := e.lanes.Enqueue(lane.Item{JobID: rec.ID, Priority: rec.Priority}); err != nil {
				e.logRecoverySkip(rec, err)
				continue
			}
			e.persist(ctx, rec.Clone())
			requeued++

		case job.StateRetrying:
			if err := e.tracker.Adopt(rec); err != nil {
				e.logRecoverySkip(rec, err)
				continue
			}
			// Overdue ready times release on the scheduler's first tick.
			e.retries.Schedule(rec.ID, rec.Priority, rec.RunAt)
			rearmed++

		case job.StatePending:
			if err := e.tracker.Adopt(rec); err != nil {
				e.logRecoverySkip(rec, err)
				continue
			}
			if rec.RunAt.After(now) {
				e.retries.Schedule(rec.ID, rec.Priority, rec.RunAt)
			} else if err := e.lanes.Enqueue(lane.Item{JobID: rec.ID, Priority: rec.Priority}); err != nil {
				e.logRecoverySkip(rec, err)
				continue
			}
			requeued++

		default:
			// ListActiveJobs only returns non-terminal states; skip
			// anything else a misbehaving backend hands back.
		}
	}

	e.logger.Info("recovered persisted jobs",
		slog.Int("requeued", requeued),
		slog.Int("rearmed", rearmed),
		slog.Int("dead_lettered", lettered),
	)
	return nil
}

// deadLetterRecovered archives a recovered record whose interrupted
// attempt was its last.
func (e *Engine) deadLetterRecovered(ctx context.Context, rec *job.Record) {
	const failure = "interrupted by restart with no attempts remaining"

	snap, cb, err := e.tracker.MarkDeadLettered(rec.ID, failure)
	if err != nil {
		e.logRecoverySkip(rec, err)
		return
	}

	e.persist(ctx, snap)
	if err := e.dlqService.Push(ctx, snap, failure); err != nil {
		e.logger.Error("dead-letter archive failed",
			slog.String("job_id", snap.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	e.extensions.EmitJobDeadLettered(ctx, snap, errors.New(failure))
	if cb != nil {
		cb(snap)
	}

	e.logger.Warn("job dead-lettered during recovery",
		slog.String("job_id", snap.ID.String()),
		slog.Int("attempts", snap.AttemptCount),
	)
}

func (e *Engine) logRecoverySkip(rec *job.Record, err error) {
	e.logger.Warn("skipping unrecoverable record",
		slog.String("job_id", rec.ID.String()),
		slog.String("state", string(rec.State)),
		slog.String("error", err.Error()),
	)
}

// persist mirrors a transition into the durable store. Failures are
// logged, never raised: the tracker owns the live state and startup
// recovery reconciles the store.
func (e *Engine) persist(ctx context.Context, rec *job.Record) {
	if err := e.store.UpdateJob(ctx, rec); err != nil {
		e.logger.Error("state write failed",
			slog.String("job_id", rec.ID.String()),
			slog.String("state", string(rec.State)),
			slog.String("error", err.Error()),
		)
	}
}
