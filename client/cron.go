package client

import (
	"context"
	"net/http"
	"time"
)

// CronEntry is the wire form of a scheduled entry.
type CronEntry struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	JobName   string     `json:"job_name"`
	Priority  string     `json:"priority"`
	Payload   []byte     `json:"payload,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	Enabled   bool       `json:"enabled"`
}

// CronList is the full set of registered entries.
type CronList struct {
	Entries []CronEntry `json:"entries"`
	Total   int         `json:"total"`
}

// ListCrons lists every registered cron entry.
func (c *Client) ListCrons(ctx context.Context) (*CronList, error) {
	var list CronList
	if err := c.do(ctx, http.MethodGet, "/v1/crons", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetCron fetches a cron entry by name.
func (c *Client) GetCron(ctx context.Context, name string) (*CronEntry, error) {
	var entry CronEntry
	if err := c.do(ctx, http.MethodGet, "/v1/crons/"+name, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// EnableCron resumes a disabled entry and returns its updated state.
func (c *Client) EnableCron(ctx context.Context, name string) (*CronEntry, error) {
	return c.setCronEnabled(ctx, name, "enable")
}

// DisableCron stops an entry from firing without deregistering it.
func (c *Client) DisableCron(ctx context.Context, name string) (*CronEntry, error) {
	return c.setCronEnabled(ctx, name, "disable")
}

func (c *Client) setCronEnabled(ctx context.Context, name, verb string) (*CronEntry, error) {
	var entry CronEntry
	if err := c.do(ctx, http.MethodPost, "/v1/crons/"+name+"/"+verb, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteCron deregisters a cron entry.
func (c *Client) DeleteCron(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/crons/"+name, nil, nil)
}
