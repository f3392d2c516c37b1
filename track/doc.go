// Package track maintains the authoritative in-memory record for every
// known job and derives all engine metrics from it.
//
// The [Tracker] owns its records behind a single mutex. Every state
// transition goes through a tracker method that validates the edge,
// mutates the record, and updates the derived counters inside the same
// critical section, so metrics can never drift from job state. Terminal
// transitions hand the record's callback back to the caller, to be
// invoked after the lock is released.
//
// Retention is external: the tracker never evicts records on its own.
package track
