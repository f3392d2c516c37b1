package job

import (
	"context"

	"github.com/triagehq/triage/id"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int
	// Offset is the number of records to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for job records.
//
// The engine dispatches from its in-process lanes, not from the store;
// the store exists for durability and crash recovery. Implementations
// provide at-least-once semantics and need not be linearizable.
type Store interface {
	// SaveJob persists a newly submitted record.
	SaveJob(ctx context.Context, rec *Record) error

	// GetJob retrieves a record by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Record, error)

	// UpdateJob persists changes to an existing record.
	UpdateJob(ctx context.Context, rec *Record) error

	// DeleteJob removes a record by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns records in the given state, oldest first.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Record, error)

	// ListActiveJobs returns all non-terminal records, oldest first.
	// Used on startup to recover work interrupted by a crash.
	ListActiveJobs(ctx context.Context) ([]*Record, error)

	// CountJobs returns the number of records matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
