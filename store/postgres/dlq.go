package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/dlq"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

const dlqColumns = `
	id, job_id, job_type, priority, payload, error,
	attempt_count, max_attempts, failed_at, replayed_at, created_at`

// PushDLQ adds a dead-lettered job entry to the archive.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO triage_dlq (
			id, job_id, job_type, priority, payload, error,
			attempt_count, max_attempts, failed_at, replayed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID.String(), entry.JobID.String(), entry.JobType,
		entry.Priority.String(), entry.Payload, entry.Error,
		entry.AttemptCount, entry.MaxAttempts,
		entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("triage/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries, newest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM triage_dlq ORDER BY failed_at DESC`
	args := []interface{}{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("triage/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		entry, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("triage/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("triage/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM triage_dlq WHERE id = $1`,
		entryID.String(),
	)

	entry, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, triage.ErrDLQNotFound
		}
		return nil, fmt.Errorf("triage/postgres: get dlq: %w", err)
	}
	return entry, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE triage_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("triage/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return triage.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM triage_dlq WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("triage/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of archived entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM triage_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("triage/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		entry       dlq.Entry
		idStr       string
		jobIDStr    string
		priorityStr string
	)
	err := row.Scan(
		&idStr, &jobIDStr, &entry.JobType, &priorityStr, &entry.Payload, &entry.Error,
		&entry.AttemptCount, &entry.MaxAttempts,
		&entry.FailedAt, &entry.ReplayedAt, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("triage/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	entry.ID = parsedID

	if jobIDStr != "" {
		parsedJob, jobErr := id.ParseJobID(jobIDStr)
		if jobErr == nil {
			entry.JobID = parsedJob
		}
	}

	priority, parseErr := job.ParsePriority(priorityStr)
	if parseErr == nil {
		entry.Priority = priority
	}

	return &entry, nil
}
