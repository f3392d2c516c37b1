package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/triagehq/triage/id"
)

// DLQEntry is the wire form of a dead-letter archive entry.
type DLQEntry struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	JobType      string     `json:"job_type"`
	Priority     string     `json:"priority"`
	Payload      []byte     `json:"payload"`
	Error        string     `json:"error"`
	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	FailedAt     time.Time  `json:"failed_at"`
	ReplayedAt   *time.Time `json:"replayed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DLQList is one page of dead-letter entries plus the archive total.
type DLQList struct {
	Entries []DLQEntry `json:"entries"`
	Total   int64      `json:"total"`
}

// ListDLQOpts pages ListDLQ. Limit defaults to 100 on the server.
type ListDLQOpts struct {
	Limit  int
	Offset int
}

// ListDLQ pages through the dead-letter archive, newest first.
func (c *Client) ListDLQ(ctx context.Context, opts ListDLQOpts) (*DLQList, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/v1/dlq"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list DLQList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetDLQEntry fetches a single dead-letter entry.
func (c *Client) GetDLQEntry(ctx context.Context, entryID id.DLQID) (*DLQEntry, error) {
	var entry DLQEntry
	if err := c.do(ctx, http.MethodGet, "/v1/dlq/"+entryID.String(), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ReplayDLQ resubmits a dead-lettered job with a fresh attempt budget and
// returns the new job record.
func (c *Client) ReplayDLQ(ctx context.Context, entryID id.DLQID) (*Job, error) {
	var j Job
	if err := c.do(ctx, http.MethodPost, "/v1/dlq/"+entryID.String()+"/replay", nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// PurgeDLQ deletes archive entries older than before and reports how many
// were removed. The zero time purges everything.
func (c *Client) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	path := "/v1/dlq"
	if !before.IsZero() {
		q := url.Values{}
		q.Set("before", before.Format(time.RFC3339))
		path += "?" + q.Encode()
	}

	var resp struct {
		Purged int64 `json:"purged"`
	}
	if err := c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Purged, nil
}
