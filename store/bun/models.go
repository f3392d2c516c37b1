package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/dlq"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:triage_jobs"`

	ID           string     `bun:"id,pk"`
	Type         string     `bun:"type,notnull"`
	Payload      []byte     `bun:"payload"`
	Priority     string     `bun:"priority,notnull,default:'normal'"`
	State        string     `bun:"state,notnull,default:'pending'"`
	AttemptCount int        `bun:"attempt_count,notnull,default:0"`
	MaxAttempts  int        `bun:"max_attempts,notnull,default:3"`
	Timeout      int64      `bun:"timeout,notnull,default:0"`
	LastError    string     `bun:"last_error"`
	WorkerID     string     `bun:"worker_id"`
	Result       []byte     `bun:"result"`
	RunAt        time.Time  `bun:"run_at,notnull"`
	StartedAt    *time.Time `bun:"started_at"`
	CompletedAt  *time.Time `bun:"completed_at"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
}

func toJobModel(rec *job.Record) *jobModel {
	return &jobModel{
		ID:           rec.ID.String(),
		Type:         rec.Type,
		Payload:      rec.Payload,
		Priority:     rec.Priority.String(),
		State:        string(rec.State),
		AttemptCount: rec.AttemptCount,
		MaxAttempts:  rec.MaxAttempts,
		Timeout:      rec.Timeout.Nanoseconds(),
		LastError:    rec.LastError,
		WorkerID:     rec.WorkerID.String(),
		Result:       rec.Result,
		RunAt:        rec.RunAt,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Record, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("triage/bun: parse job id %q: %w", m.ID, err)
	}

	priority, err := job.ParsePriority(m.Priority)
	if err != nil {
		return nil, fmt.Errorf("triage/bun: parse priority %q: %w", m.Priority, err)
	}

	rec := &job.Record{
		Entity: triage.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           parsedID,
		Type:         m.Type,
		Payload:      m.Payload,
		Priority:     priority,
		State:        job.State(m.State),
		AttemptCount: m.AttemptCount,
		MaxAttempts:  m.MaxAttempts,
		Timeout:      time.Duration(m.Timeout),
		LastError:    m.LastError,
		Result:       m.Result,
		RunAt:        m.RunAt,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
	}

	if m.WorkerID != "" {
		parsedWorker, wErr := id.ParseWorkerID(m.WorkerID)
		if wErr == nil {
			rec.WorkerID = parsedWorker
		}
	}

	return rec, nil
}

// ── DLQ entry model ───────────────────────────────────────────────

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:triage_dlq"`

	ID           string     `bun:"id,pk"`
	JobID        string     `bun:"job_id,notnull"`
	JobType      string     `bun:"job_type,notnull"`
	Priority     string     `bun:"priority,notnull,default:'normal'"`
	Payload      []byte     `bun:"payload"`
	Error        string     `bun:"error"`
	AttemptCount int        `bun:"attempt_count,notnull,default:0"`
	MaxAttempts  int        `bun:"max_attempts,notnull,default:0"`
	FailedAt     time.Time  `bun:"failed_at,notnull"`
	ReplayedAt   *time.Time `bun:"replayed_at"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
}

func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:           e.ID.String(),
		JobID:        e.JobID.String(),
		JobType:      e.JobType,
		Priority:     e.Priority.String(),
		Payload:      e.Payload,
		Error:        e.Error,
		AttemptCount: e.AttemptCount,
		MaxAttempts:  e.MaxAttempts,
		FailedAt:     e.FailedAt,
		ReplayedAt:   e.ReplayedAt,
		CreatedAt:    e.CreatedAt,
	}
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("triage/bun: parse dlq id %q: %w", m.ID, err)
	}

	entry := &dlq.Entry{
		ID:           parsedID,
		JobType:      m.JobType,
		Payload:      m.Payload,
		Error:        m.Error,
		AttemptCount: m.AttemptCount,
		MaxAttempts:  m.MaxAttempts,
		FailedAt:     m.FailedAt,
		ReplayedAt:   m.ReplayedAt,
		CreatedAt:    m.CreatedAt,
	}

	if m.JobID != "" {
		parsedJob, jErr := id.ParseJobID(m.JobID)
		if jErr == nil {
			entry.JobID = parsedJob
		}
	}

	priority, pErr := job.ParsePriority(m.Priority)
	if pErr == nil {
		entry.Priority = priority
	}

	return entry, nil
}
