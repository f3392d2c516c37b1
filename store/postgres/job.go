package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

const jobColumns = `
	id, type, payload, priority, state, attempt_count, max_attempts,
	timeout, last_error, worker_id, result,
	run_at, started_at, completed_at, created_at, updated_at`

// SaveJob persists a newly submitted record.
func (s *Store) SaveJob(ctx context.Context, rec *job.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO triage_jobs (
			id, type, payload, priority, state, attempt_count, max_attempts,
			timeout, last_error, worker_id, result,
			run_at, started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		rec.ID.String(), rec.Type, []byte(rec.Payload), rec.Priority.String(),
		string(rec.State), rec.AttemptCount, rec.MaxAttempts,
		rec.Timeout.Nanoseconds(), rec.LastError, rec.WorkerID.String(), []byte(rec.Result),
		rec.RunAt, rec.StartedAt, rec.CompletedAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return triage.ErrJobAlreadyExists
		}
		return fmt.Errorf("triage/postgres: save job: %w", err)
	}
	return nil
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM triage_jobs WHERE id = $1`,
		jobID.String(),
	)

	rec, err := scanRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, triage.ErrJobNotFound
		}
		return nil, fmt.Errorf("triage/postgres: get job: %w", err)
	}
	return rec, nil
}

// UpdateJob persists changes to an existing record.
func (s *Store) UpdateJob(ctx context.Context, rec *job.Record) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE triage_jobs SET
			type = $2, payload = $3, priority = $4, state = $5,
			attempt_count = $6, max_attempts = $7, timeout = $8,
			last_error = $9, worker_id = $10, result = $11,
			run_at = $12, started_at = $13, completed_at = $14,
			updated_at = NOW()
		WHERE id = $1`,
		rec.ID.String(), rec.Type, []byte(rec.Payload), rec.Priority.String(),
		string(rec.State), rec.AttemptCount, rec.MaxAttempts, rec.Timeout.Nanoseconds(),
		rec.LastError, rec.WorkerID.String(), []byte(rec.Result),
		rec.RunAt, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("triage/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return triage.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a record by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM triage_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("triage/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return triage.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns records in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Record, error) {
	query := `SELECT ` + jobColumns + ` FROM triage_jobs WHERE state = $1 ORDER BY created_at ASC`
	args := []interface{}{string(state)}
	argIdx := 2

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
		return nil, fmt.Errorf("triage/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListActiveJobs returns all non-terminal records, oldest first.
func (s *Store) ListActiveJobs(ctx context.Context) ([]*job.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM triage_jobs
		WHERE state IN ('pending', 'running', 'retrying')
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("triage/postgres: list active jobs: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// CountJobs returns the number of records matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM triage_jobs`
	args := []interface{}{}

	if opts.State != "" {
		query += ` WHERE state = $1`
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("triage/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanRecord scans a single job row.
func scanRecord(row pgx.Row) (*job.Record, error) {
	var (
		rec         job.Record
		idStr       string
		priorityStr string
		stateStr    string
		workerStr   string
		payload     []byte
		result      []byte
		timeoutNs   int64
	)
	err := row.Scan(
		&idStr, &rec.Type, &payload, &priorityStr, &stateStr,
		&rec.AttemptCount, &rec.MaxAttempts,
		&timeoutNs, &rec.LastError, &workerStr, &result,
		&rec.RunAt, &rec.StartedAt, &rec.CompletedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.State = job.State(stateStr)
	rec.Timeout = time.Duration(timeoutNs)
	if len(payload) > 0 {
		rec.Payload = payload
	}
	if len(result) > 0 {
		rec.Result = result
	}

	priority, parseErr := job.ParsePriority(priorityStr)
	if parseErr != nil {
		return nil, fmt.Errorf("triage/postgres: parse priority %q: %w", priorityStr, parseErr)
	}
	rec.Priority = priority

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("triage/postgres: parse job id %q: %w", idStr, parseErr)
	}
	rec.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			rec.WorkerID = parsedWorker
		}
	}

	return &rec, nil
}

// collectRecords collects all records from query rows.
func collectRecords(rows pgx.Rows) ([]*job.Record, error) {
	var recs []*job.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("triage/postgres: scan job row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("triage/postgres: iterate job rows: %w", err)
	}
	return recs, nil
}
