package triage

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("triage: no store configured")
	ErrStoreClosed = errors.New("triage: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("triage: job not found")
	ErrDLQNotFound = errors.New("triage: dlq entry not found")

	// Submission errors.
	ErrUnknownJobType   = errors.New("triage: unknown job type")
	ErrInvalidPriority  = errors.New("triage: invalid priority")
	ErrJobAlreadyExists = errors.New("triage: job already exists")

	// Registry errors.
	ErrRegistrySealed   = errors.New("triage: handler registry is sealed")
	ErrDuplicateHandler = errors.New("triage: handler already registered")

	// State errors.
	ErrInvalidTransition = errors.New("triage: invalid state transition")
	ErrRetriesExhausted  = errors.New("triage: retries exhausted")
	ErrJobTimeout        = errors.New("triage: job attempt timed out")

	// Lifecycle errors.
	ErrEngineStopped = errors.New("triage: engine not running")
)
