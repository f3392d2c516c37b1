package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// SaveJob stores the record as a Hash and registers its ID.
func (s *Store) SaveJob(ctx context.Context, rec *job.Record) error {
	jID := rec.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("triage/redis: save check exists: %w", err)
	}
	if exists > 0 {
		return triage.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, recordToMap(rec))
	pipe.SAdd(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("triage/redis: save job: %w", err)
	}
	return nil
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing record.
func (s *Store) UpdateJob(ctx context.Context, rec *job.Record) error {
	jID := rec.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("triage/redis: update check exists: %w", err)
	}
	if exists == 0 {
		return triage.ErrJobNotFound
	}

	fields := recordToMap(rec)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("triage/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a record by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("triage/redis: delete check exists: %w", err)
	}
	if exists == 0 {
		return triage.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("triage/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns records in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Record, error) {
	all, err := s.scanJobs(ctx, func(rec *job.Record) bool { return rec.State == state })
	if err != nil {
		return nil, err
	}
	sortByCreatedAt(all)
	return paginate(all, opts.Offset, opts.Limit), nil
}

// ListActiveJobs returns all non-terminal records, oldest first.
func (s *Store) ListActiveJobs(ctx context.Context) ([]*job.Record, error) {
	all, err := s.scanJobs(ctx, func(rec *job.Record) bool { return !rec.State.Terminal() })
	if err != nil {
		return nil, err
	}
	sortByCreatedAt(all)
	return all, nil
}

// CountJobs returns the number of records matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.State == "" {
		n, err := s.client.SCard(ctx, jobIDsKey).Result()
		if err != nil {
			return 0, fmt.Errorf("triage/redis: count jobs: %w", err)
		}
		return n, nil
	}

	matched, err := s.scanJobs(ctx, func(rec *job.Record) bool { return rec.State == opts.State })
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// ── helpers ──

// scanJobs loads every registered record and keeps those the filter accepts.
// IDs whose hash has expired or been deleted out-of-band are skipped.
func (s *Store) scanJobs(ctx context.Context, keep func(*job.Record) bool) ([]*job.Record, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("triage/redis: scan jobs smembers: %w", err)
	}

	recs := make([]*job.Record, 0, len(ids))
	for _, jID := range ids {
		rec, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if keep(rec) {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func sortByCreatedAt(recs []*job.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

func paginate(recs []*job.Record, offset, limit int) []*job.Record {
	if offset >= len(recs) {
		return nil
	}
	if offset > 0 {
		recs = recs[offset:]
	}
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

func recordToMap(rec *job.Record) map[string]interface{} {
	m := map[string]interface{}{
		"id":            rec.ID.String(),
		"type":          rec.Type,
		"payload":       string(rec.Payload),
		"priority":      rec.Priority.String(),
		"state":         string(rec.State),
		"attempt_count": strconv.Itoa(rec.AttemptCount),
		"max_attempts":  strconv.Itoa(rec.MaxAttempts),
		"timeout":       strconv.FormatInt(int64(rec.Timeout), 10),
		"last_error":    rec.LastError,
		"worker_id":     rec.WorkerID.String(),
		"result":        string(rec.Result),
		"run_at":        rec.RunAt.Format(time.RFC3339Nano),
		"created_at":    rec.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    rec.UpdatedAt.Format(time.RFC3339Nano),
	}
	if rec.StartedAt != nil {
		m["started_at"] = rec.StartedAt.Format(time.RFC3339Nano)
	}
	if rec.CompletedAt != nil {
		m["completed_at"] = rec.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Record, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("triage/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, triage.ErrJobNotFound
	}
	return mapToRecord(vals)
}

func mapToRecord(m map[string]string) (*job.Record, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("triage/redis: parse job id: %w", err)
	}

	priority, _ := job.ParsePriority(m["priority"])      //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempt_count"])      //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	rec := &job.Record{
		Entity: triage.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:           jID,
		Type:         m["type"],
		Priority:     priority,
		State:        job.State(m["state"]),
		AttemptCount: attempts,
		MaxAttempts:  maxAttempts,
		Timeout:      time.Duration(timeout),
		LastError:    m["last_error"],
		RunAt:        runAt,
	}

	if v := m["payload"]; v != "" {
		rec.Payload = json.RawMessage(v)
	}
	if v := m["result"]; v != "" {
		rec.Result = json.RawMessage(v)
	}
	if wid := m["worker_id"]; wid != "" {
		rec.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		rec.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		rec.CompletedAt = &t
	}

	return rec, nil
}
