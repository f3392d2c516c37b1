package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// SaveJob persists a newly submitted record. Inserts use ON CONFLICT DO
// NOTHING so duplicate detection works the same on every dialect.
func (s *Store) SaveJob(ctx context.Context, rec *job.Record) error {
	m := toJobModel(rec)
	res, err := s.db.NewInsert().Model(m).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("triage/bun: save job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return triage.ErrJobAlreadyExists
	}
	return nil
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, triage.ErrJobNotFound
		}
		return nil, fmt.Errorf("triage/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// UpdateJob persists changes to an existing record.
func (s *Store) UpdateJob(ctx context.Context, rec *job.Record) error {
	m := toJobModel(rec)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("triage/bun: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return triage.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a record by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("triage/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return triage.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns records in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Record, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("state = ?", string(state)).
		Order("created_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("triage/bun: list jobs by state: %w", err)
	}

	return convertJobModels(models)
}

// ListActiveJobs returns all non-terminal records, oldest first.
func (s *Store) ListActiveJobs(ctx context.Context) ([]*job.Record, error) {
	active := []string{
		string(job.StatePending),
		string(job.StateRunning),
		string(job.StateRetrying),
	}

	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("state IN (?)", bun.In(active)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("triage/bun: list active jobs: %w", err)
	}

	return convertJobModels(models)
}

// CountJobs returns the number of records matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil))

	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("triage/bun: count jobs: %w", err)
	}
	return int64(count), nil
}

func convertJobModels(models []jobModel) ([]*job.Record, error) {
	recs := make([]*job.Record, 0, len(models))
	for i := range models {
		rec, err := fromJobModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("triage/bun: convert job: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
