// Package dlq implements the dead-letter archive: the guaranteed terminal
// destination for jobs that exhausted their attempt budget, kept durable
// for offline inspection and replay.
package dlq

import (
	"time"

	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// Entry represents a job that exhausted its attempt budget and was moved
// to the dead-letter archive.
type Entry struct {
	ID           id.DLQID     `json:"id"`
	JobID        id.JobID     `json:"job_id"`
	JobType      string       `json:"job_type"`
	Priority     job.Priority `json:"priority"`
	Payload      []byte       `json:"payload"`
	Error        string       `json:"error"`
	AttemptCount int          `json:"attempt_count"`
	MaxAttempts  int          `json:"max_attempts"`
	FailedAt     time.Time    `json:"failed_at"`
	ReplayedAt   *time.Time   `json:"replayed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
