package mongo

import (
	"fmt"
	"time"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/dlq"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID           string     `bson:"_id"`
	Type         string     `bson:"type"`
	Payload      []byte     `bson:"payload,omitempty"`
	Priority     string     `bson:"priority"`
	State        string     `bson:"state"`
	AttemptCount int        `bson:"attempt_count"`
	MaxAttempts  int        `bson:"max_attempts"`
	Timeout      int64      `bson:"timeout"`
	LastError    string     `bson:"last_error"`
	WorkerID     string     `bson:"worker_id"`
	Result       []byte     `bson:"result,omitempty"`
	RunAt        time.Time  `bson:"run_at"`
	StartedAt    *time.Time `bson:"started_at,omitempty"`
	CompletedAt  *time.Time `bson:"completed_at,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
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
		return nil, fmt.Errorf("triage/mongo: parse job id %q: %w", m.ID, err)
	}

	priority, err := job.ParsePriority(m.Priority)
	if err != nil {
		return nil, fmt.Errorf("triage/mongo: parse priority %q: %w", m.Priority, err)
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
	ID           string     `bson:"_id"`
	JobID        string     `bson:"job_id"`
	JobType      string     `bson:"job_type"`
	Priority     string     `bson:"priority"`
	Payload      []byte     `bson:"payload,omitempty"`
	Error        string     `bson:"error"`
	AttemptCount int        `bson:"attempt_count"`
	MaxAttempts  int        `bson:"max_attempts"`
	FailedAt     time.Time  `bson:"failed_at"`
	ReplayedAt   *time.Time `bson:"replayed_at,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
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
		return nil, fmt.Errorf("triage/mongo: parse dlq id %q: %w", m.ID, err)
	}

	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("triage/mongo: parse job id %q: %w", m.JobID, err)
	}

	entry := &dlq.Entry{
		ID:           parsedID,
		JobID:        parsedJobID,
		JobType:      m.JobType,
		Payload:      m.Payload,
		Error:        m.Error,
		AttemptCount: m.AttemptCount,
		MaxAttempts:  m.MaxAttempts,
		FailedAt:     m.FailedAt,
		ReplayedAt:   m.ReplayedAt,
		CreatedAt:    m.CreatedAt,
	}

	priority, pErr := job.ParsePriority(m.Priority)
	if pErr == nil {
		entry.Priority = priority
	}

	return entry, nil
}
