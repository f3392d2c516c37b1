// Package store defines the aggregate persistence interface. Each subsystem
// (job, dlq) defines its own store interface; the composite Store composes
// them all. Backends: Postgres, Bun, Redis, Mongo, and Memory.
package store

import (
	"context"

	"github.com/triagehq/triage/dlq"
	"github.com/triagehq/triage/job"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, bun, redis, etc.) implements all of them.
//
// The engine treats the store as its durability layer: records are
// written through on every state transition and read back only on
// startup recovery and for dead-letter inspection. Dispatch order comes
// from the engine's in-process lanes, never from store scan order.
type Store interface {
	job.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
