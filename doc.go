// Package triage provides a priority-based asynchronous job processing
// engine for Go. Work is accepted through a narrow submission API, queued
// into four strict-precedence lanes, executed by a bounded worker pool,
// retried with capped exponential backoff, and dead-lettered when retries
// are exhausted so that no job is ever silently dropped.
//
// Triage is designed as a library, not a service. Import it, configure a
// store, register handlers as ordinary Go functions, and start the engine.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithStore(memory.New()),
//	    engine.WithWorkers(8),
//	)
//
// # Architecture
//
// Each subsystem (job, dlq) defines its own store interface; a single
// backend implements all of them. Lanes, retry scheduling, and lifecycle
// tracking are in-process: the store exists for durability and crash
// recovery, not for coordination.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package triage
