package cron

import (
	"time"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// Entry represents a scheduled cron job.
type Entry struct {
	triage.Entity

	ID        id.CronID    `json:"id"`
	Name      string       `json:"name"`
	Schedule  string       `json:"schedule"`
	JobName   string       `json:"job_name"`
	Priority  job.Priority `json:"priority"`
	Payload   []byte       `json:"payload,omitempty"`
	LastRunAt *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt *time.Time   `json:"next_run_at,omitempty"`
	Enabled   bool         `json:"enabled"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	out := *e
	if e.LastRunAt != nil {
		t := *e.LastRunAt
		out.LastRunAt = &t
	}
	if e.NextRunAt != nil {
		t := *e.NextRunAt
		out.NextRunAt = &t
	}
	if e.Payload != nil {
		out.Payload = make([]byte, len(e.Payload))
		copy(out.Payload, e.Payload)
	}
	return &out
}
