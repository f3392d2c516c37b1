package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/triagehq/triage/id"
)

// Job is the wire form of a job record. Durations are seconds,
// timestamps RFC 3339.
type Job struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       string          `json:"priority"`
	State          string          `json:"state"`
	AttemptCount   int             `json:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"`
	TimeoutSeconds float64         `json:"timeout_seconds"`
	RunAt          time.Time       `json:"run_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	WorkerID       string          `json:"worker_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type submitRequest struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	TimeoutSeconds float64         `json:"timeout_seconds,omitempty"`
	RunAt          *time.Time      `json:"run_at,omitempty"`
}

// SubmitOption customizes a submission.
type SubmitOption func(*submitRequest)

// WithPriority routes the job onto the named lane: "critical", "high",
// "normal" or "low".
func WithPriority(priority string) SubmitOption {
	return func(r *submitRequest) { r.Priority = priority }
}

// WithMaxAttempts caps execution attempts before the job dead-letters.
func WithMaxAttempts(n int) SubmitOption {
	return func(r *submitRequest) { r.MaxAttempts = n }
}

// WithTimeout bounds each execution attempt.
func WithTimeout(d time.Duration) SubmitOption {
	return func(r *submitRequest) { r.TimeoutSeconds = d.Seconds() }
}

// WithRunAt delays the first execution until t.
func WithRunAt(t time.Time) SubmitOption {
	return func(r *submitRequest) { r.RunAt = &t }
}

// Submit enqueues a job and returns its ID.
func (c *Client) Submit(ctx context.Context, jobType string, payload json.RawMessage, opts ...SubmitOption) (id.JobID, error) {
	req := submitRequest{Type: jobType, Payload: payload}
	for _, opt := range opts {
		opt(&req)
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &resp); err != nil {
		return id.JobID{}, err
	}
	jobID, err := id.ParseJobID(resp.JobID)
	if err != nil {
		return id.JobID{}, fmt.Errorf("triage/client: bad job id in response: %w", err)
	}
	return jobID, nil
}

// GetJob fetches a single job record.
func (c *Client) GetJob(ctx context.Context, jobID id.JobID) (*Job, error) {
	var j Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID.String(), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// CancelJob requests cancellation. The returned bool is false when the
// job had already reached a terminal state.
func (c *Client) CancelJob(ctx context.Context, jobID id.JobID) (bool, error) {
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/cancel", nil, &resp); err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

// JobList is one page of job records plus the total count in that state.
type JobList struct {
	Jobs  []Job `json:"jobs"`
	Total int64 `json:"total"`
}

// ListJobsOpts filters ListJobs. State is required; Limit defaults to
// 100 on the server.
type ListJobsOpts struct {
	State  string
	Limit  int
	Offset int
}

// ListJobs pages through the job records in a given state.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOpts) (*JobList, error) {
	q := url.Values{}
	q.Set("state", opts.State)
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var list JobList
	if err := c.do(ctx, http.MethodGet, "/v1/jobs?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}
