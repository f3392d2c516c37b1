package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// submitJobRequest is the body of POST /v1/jobs.
type submitJobRequest struct {
	Type           string          `json:"type" binding:"required"`
	Payload        json.RawMessage `json:"payload"`
	Priority       string          `json:"priority"`
	MaxAttempts    int             `json:"max_attempts"`
	TimeoutSeconds float64         `json:"timeout_seconds"`
	RunAt          *time.Time      `json:"run_at"`
}

// jobResponse is the wire form of a job record. Durations are seconds,
// timestamps RFC 3339.
type jobResponse struct {
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

func newJobResponse(rec *job.Record) jobResponse {
	resp := jobResponse{
		ID:             rec.ID.String(),
		Type:           rec.Type,
		Payload:        rec.Payload,
		Priority:       rec.Priority.String(),
		State:          string(rec.State),
		AttemptCount:   rec.AttemptCount,
		MaxAttempts:    rec.MaxAttempts,
		TimeoutSeconds: rec.Timeout.Seconds(),
		RunAt:          rec.RunAt,
		StartedAt:      rec.StartedAt,
		CompletedAt:    rec.CompletedAt,
		Result:         rec.Result,
		LastError:      rec.LastError,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	if !rec.WorkerID.IsNil() {
		resp.WorkerID = rec.WorkerID.String()
	}
	return resp
}

// submitJob handles POST /v1/jobs.
func (a *API) submitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	var opts []job.Option
	if req.Priority != "" {
		p, err := job.ParsePriority(req.Priority)
		if err != nil {
			a.respondError(c, err)
			return
		}
		opts = append(opts, job.WithPriority(p))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}
	if req.TimeoutSeconds > 0 {
		opts = append(opts, job.WithTimeout(time.Duration(req.TimeoutSeconds*float64(time.Second))))
	}
	if req.RunAt != nil {
		opts = append(opts, job.WithRunAt(*req.RunAt))
	}

	jobID, err := a.eng.Submit(c.Request.Context(), req.Type, req.Payload, opts...)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job_id": jobID.String()})
}

// listJobs handles GET /v1/jobs?state=&limit=&offset=. It reads the
// durable store, not the in-process tracker, so it also sees records
// from before the last restart.
func (a *API) listJobs(c *gin.Context) {
	state := job.State(c.Query("state"))
	if !validState(state) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid state %q", state)})
		return
	}

	ctx := c.Request.Context()
	recs, err := a.eng.Store().ListJobsByState(ctx, state, job.ListOpts{
		Limit:  queryInt(c, "limit", 100),
		Offset: queryInt(c, "offset", 0),
	})
	if err != nil {
		a.respondError(c, err)
		return
	}
	total, err := a.eng.Store().CountJobs(ctx, job.CountOpts{State: state})
	if err != nil {
		a.respondError(c, err)
		return
	}

	jobs := make([]jobResponse, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, newJobResponse(rec))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": total})
}

// getJob handles GET /v1/jobs/:jobID.
func (a *API) getJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	rec, err := a.eng.Status(c.Request.Context(), jobID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobResponse(rec))
}

// cancelJob handles POST /v1/jobs/:jobID/cancel.
func (a *API) cancelJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	cancelled, err := a.eng.Cancel(c.Request.Context(), jobID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func validState(s job.State) bool {
	for _, known := range job.States {
		if s == known {
			return true
		}
	}
	return false
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
