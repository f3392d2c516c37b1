package job

import (
	"encoding/json"
	"time"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting in its lane for a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the attempt failed; resolved immediately to
	// retrying or dead_lettered by the failure handler.
	StateFailed State = "failed"
	// StateRetrying means the job failed and is waiting out its backoff
	// delay before re-entering its lane.
	StateRetrying State = "retrying"
	// StateDeadLettered means the job exhausted its attempts and was
	// archived to the dead-letter store.
	StateDeadLettered State = "dead_lettered"
	// StateCancelled means the job was cancelled before it could run.
	StateCancelled State = "cancelled"
)

// States lists every state, in lifecycle order.
var States = []State{
	StatePending,
	StateRunning,
	StateCompleted,
	StateFailed,
	StateRetrying,
	StateDeadLettered,
	StateCancelled,
}

// Terminal reports whether no further transition may leave this state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateDeadLettered, StateCancelled:
		return true
	default:
		return false
	}
}

// transitions is the closed edge set of the job state machine.
var transitions = map[State]map[State]bool{
	StatePending:  {StateRunning: true, StateCancelled: true},
	StateRunning:  {StateCompleted: true, StateFailed: true},
	StateFailed:   {StateRetrying: true, StateDeadLettered: true},
	StateRetrying: {StatePending: true, StateCancelled: true},
}

// CanTransition reports whether the edge from → to is legal.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// Callback is an optional per-record function invoked exactly once when
// the record reaches a terminal state. It runs outside all engine locks
// and receives a private copy of the record.
type Callback func(*Record)

// Record is a unit of work moving through the engine.
type Record struct {
	triage.Entity

	ID           id.JobID        `json:"id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     Priority        `json:"priority"`
	State        State           `json:"state"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	Timeout      time.Duration   `json:"timeout,omitempty"`
	RunAt        time.Time       `json:"run_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	WorkerID     id.WorkerID     `json:"worker_id,omitempty"`

	// Callback is in-memory only; it is never persisted and does not
	// survive a restart.
	Callback Callback `json:"-"`
}

// Clone returns a deep copy of the record. Snapshots handed to callers
// are clones so later transitions cannot mutate them.
func (r *Record) Clone() *Record {
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	if r.Result != nil {
		c.Result = append(json.RawMessage(nil), r.Result...)
	}
	return &c
}

// ProcessingTime returns the wall-clock duration between the first
// dispatch and the terminal transition, or zero if either end is unset.
func (r *Record) ProcessingTime() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}
