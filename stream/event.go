// Package stream provides a real-time event broker for Triage lifecycle events.
// It bridges the ext.Extension system to connected clients via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobEnqueued     EventType = "job.enqueued"
	EventJobStarted      EventType = "job.started"
	EventJobCompleted    EventType = "job.completed"
	EventJobRetrying     EventType = "job.retrying"
	EventJobDeadLettered EventType = "job.dead_lettered"
	EventJobCancelled    EventType = "job.cancelled"

	// Cron events.
	EventCronFired EventType = "cron.fired"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type" msgpack:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts" msgpack:"ts"`

	// Topic is the entity-specific channel this event was published on.
	Topic string `json:"topic" msgpack:"topic"`

	// Lane names the priority lane the event's job belongs to, when any.
	Lane string `json:"lane,omitempty" msgpack:"lane,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data" msgpack:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	JobType   string `json:"job_type"`
	Lane      string `json:"lane"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// CronEventData is the payload for cron lifecycle events.
type CronEventData struct {
	EntryName string `json:"entry_name"`
	JobID     string `json:"job_id"`
}
