package track

import (
	"fmt"
	"sync"
	"time"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// DepthFunc reports current per-lane queue depths. Injected so the
// tracker can publish lane depths without owning the lane set.
type DepthFunc func() [job.NumPriorities]int

// CancelResult describes the outcome of a cancellation request.
type CancelResult struct {
	// Record is a snapshot taken after the attempt: the cancelled record,
	// or its untouched current state when cancellation was a no-op.
	Record *job.Record

	// Cancelled is true only when the record moved to the cancelled state.
	Cancelled bool

	// Prior is the state the record was cancelled out of. Valid only
	// when Cancelled is true; the caller uses it to clear the matching
	// queue structure.
	Prior job.State

	// Callback is the record's terminal callback, non-nil only when
	// Cancelled is true and the record carries one. Invoke it after
	// releasing any locks.
	Callback job.Callback
}

// Tracker is the lock-protected owner of all live job records.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*job.Record

	submitted int64
	counts    map[job.State]int64
	ring      *durationRing

	depths DepthFunc
}

// New creates a Tracker. window is the number of recent completions kept
// for the rolling processing-time metrics; depths may be nil until
// SetDepthFunc is called.
func New(window int, depths DepthFunc) *Tracker {
	if window < 1 {
		window = 1
	}
	return &Tracker{
		records: make(map[string]*job.Record),
		counts:  make(map[job.State]int64),
		ring:    newDurationRing(window),
		depths:  depths,
	}
}

// SetDepthFunc injects the lane depth reader after construction.
func (t *Tracker) SetDepthFunc(fn DepthFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.depths = fn
}

// Add registers a newly submitted record. The record must be pending.
func (t *Tracker) Add(rec *job.Record) error {
	if rec.State != job.StatePending {
		return fmt.Errorf("%w: cannot add record in state %s", triage.ErrInvalidTransition, rec.State)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := rec.ID.String()
	if _, exists := t.records[key]; exists {
		return fmt.Errorf("%w: %s", triage.ErrJobAlreadyExists, key)
	}
	t.records[key] = rec
	t.submitted++
	t.counts[job.StatePending]++
	return nil
}

// Adopt seats a record recovered from the durable store at startup.
// Unlike Add it also accepts retrying records, so re-armed backoff
// waits keep their persisted state; interrupted running records are
// normalized to pending by the caller before adoption.
func (t *Tracker) Adopt(rec *job.Record) error {
	if rec.State != job.StatePending && rec.State != job.StateRetrying {
		return fmt.Errorf("%w: cannot adopt record in state %s", triage.ErrInvalidTransition, rec.State)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := rec.ID.String()
	if _, exists := t.records[key]; exists {
		return fmt.Errorf("%w: %s", triage.ErrJobAlreadyExists, key)
	}
	t.records[key] = rec
	t.submitted++
	t.counts[rec.State]++
	return nil
}

// Withdraw removes a record added by the current submission after a
// downstream step (the durable store) rejected it. Submission is
// fail-closed: a record that could not be persisted is not tracked.
func (t *Tracker) Withdraw(jobID id.JobID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := jobID.String()
	rec, ok := t.records[key]
	if !ok {
		return
	}
	delete(t.records, key)
	t.submitted--
	t.counts[rec.State]--
}

// Get returns a snapshot of the record. Snapshots are deep copies, so
// repeated calls with no intervening transition are identical and later
// transitions never mutate a handed-out snapshot.
func (t *Tracker) Get(jobID id.JobID) (*job.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[jobID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", triage.ErrJobNotFound, jobID)
	}
	return rec.Clone(), nil
}

// Len returns the number of tracked records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// MarkRunning transitions pending → running for exactly one caller,
// stamping StartedAt on the first attempt and consuming one unit of the
// attempt budget. A record cancelled between dequeue and dispatch fails
// here with ErrInvalidTransition and must be skipped, not executed.
func (t *Tracker) MarkRunning(jobID id.JobID, workerID id.WorkerID) (*job.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[jobID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", triage.ErrJobNotFound, jobID)
	}
	if err := t.shift(rec, job.StateRunning); err != nil {
		return nil, err
	}

	if rec.StartedAt == nil {
		now := time.Now().UTC()
		rec.StartedAt = &now
	}
	rec.AttemptCount++
	rec.WorkerID = workerID
	rec.Touch()
	return rec.Clone(), nil
}

// MarkCompleted transitions running → completed, stores the result, and
// records the processing time in the metrics window.
func (t *Tracker) MarkCompleted(jobID id.JobID, result []byte) (*job.Record, job.Callback, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[jobID.String()]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", triage.ErrJobNotFound, jobID)
	}
	if err := t.shift(rec, job.StateCompleted); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	rec.CompletedAt = &now
	rec.Result = result
	rec.LastError = ""
	rec.Touch()
	t.ring.push(rec.ProcessingTime())
	return rec.Clone(), rec.Callback, nil
}

// MarkRetrying resolves a failed attempt into the retrying state. The
// failed state is momentary: running → failed → retrying happens inside
// one critical section, so no reader ever observes failed at rest.
// runAt is when the record may re-enter its lane.
func (t *Tracker) MarkRetrying(jobID id.JobID, failure string, runAt time.Time) (*job.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[jobID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", triage.ErrJobNotFound, jobID)
	}
	if err := t.shift(rec, job.StateFailed); err != nil {
		return nil, err
	}
	if err := t.shift(rec, job.StateRetrying); err != nil {
		return nil, err
	}

	rec.LastError = failure
	rec.RunAt = runAt
	rec.Touch()
	return rec.Clone(), nil
}

// MarkDeadLettered resolves a failed attempt into the dead-lettered
// terminal state after the attempt budget is spent.
func (t *Tracker) MarkDeadLettered(jobID id.JobID, failure string) (*job.Record, job.Callback, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[jobID.String()]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", triage.ErrJobNotFound, jobID)
	}

	// Interrupted records recovered from the store may dead-letter
	// straight out of pending when their budget is already spent.
	if rec.State == job.StateRunning || rec.State == job.StatePending {
		if rec.State == job.StatePending {
			if err := t.shift(rec, job.StateRunning); err != nil {
				return nil, nil, err
			}
		}
		if err := t.shift(rec, job.StateFailed); err != nil {
			return nil, nil, err
		}
	}
	if err := t.shift(rec, job.StateDeadLettered); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	rec.CompletedAt = &now
	rec.LastError = failure
	rec.Touch()
	return rec.Clone(), rec.Callback, nil
}

// MarkPending returns a retrying record to pending at lane re-insertion
// time.
func (t *Tracker) MarkPending(jobID id.JobID) (*job.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[jobID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", triage.ErrJobNotFound, jobID)
	}
	if err := t.shift(rec, job.StatePending); err != nil {
		return nil, err
	}

	rec.WorkerID = id.Nil
	rec.Touch()
	return rec.Clone(), nil
}

// Cancel attempts to cancel the record. Only pending and retrying
// records can be cancelled; anything else is a no-op reported with
// Cancelled=false and a nil error.
func (t *Tracker) Cancel(jobID id.JobID) (*CancelResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[jobID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", triage.ErrJobNotFound, jobID)
	}

	prior := rec.State
	if !job.CanTransition(prior, job.StateCancelled) {
		return &CancelResult{Record: rec.Clone()}, nil
	}
	if err := t.shift(rec, job.StateCancelled); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec.CompletedAt = &now
	rec.Touch()
	return &CancelResult{
		Record:    rec.Clone(),
		Cancelled: true,
		Prior:     prior,
		Callback:  rec.Callback,
	}, nil
}

// shift applies one validated state-machine edge and keeps the per-state
// counters in step. Callers hold t.mu.
func (t *Tracker) shift(rec *job.Record, to job.State) error {
	if !job.CanTransition(rec.State, to) {
		return fmt.Errorf("%w: %s → %s for %s", triage.ErrInvalidTransition, rec.State, to, rec.ID)
	}
	t.counts[rec.State]--
	t.counts[to]++
	rec.State = to
	return nil
}
