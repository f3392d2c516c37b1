// Package client provides a Go client for a remote Triage server: job
// submission and inspection over the HTTP API, plus live lifecycle
// events over the /v1/events WebSocket stream.
//
// Usage:
//
//	c := client.New("http://triage.internal:8080")
//
//	// Submit a job.
//	jobID, err := c.Submit(ctx, "send-email", payload,
//	    client.WithPriority("high"),
//	)
//
//	// Watch its lifecycle.
//	sub, err := c.WatchJob(ctx, jobID)
//	defer sub.Close()
//	for evt := range sub.C() {
//	    fmt.Printf("%s\n", evt.Type)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client talks to a Triage server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	codec   string
	logger  *slog.Logger
}

// New creates a client for the server at baseURL, for example
// "http://localhost:8080". The base URL must not include /v1.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("triage/client: server returned %d: %s", e.StatusCode, e.Message)
}

// Health reports whether the server and its backing store are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Metrics is a point-in-time snapshot of engine throughput. Processing
// times are milliseconds.
type Metrics struct {
	TotalSubmitted    int64            `json:"total_submitted"`
	TotalCompleted    int64            `json:"total_completed"`
	TotalDeadLettered int64            `json:"total_dead_lettered"`
	TotalCancelled    int64            `json:"total_cancelled"`
	StateCounts       map[string]int64 `json:"state_counts"`
	SuccessRate       float64          `json:"success_rate"`
	AvgProcessingMs   float64          `json:"avg_processing_ms"`
	P95ProcessingMs   float64          `json:"p95_processing_ms"`
	WindowSize        int              `json:"window_size"`
	LaneDepths        map[string]int   `json:"lane_depths"`
}

// Metrics fetches the engine's throughput snapshot.
func (c *Client) Metrics(ctx context.Context) (*Metrics, error) {
	var m Metrics
	if err := c.do(ctx, http.MethodGet, "/v1/metrics", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// do issues a request and decodes the JSON response into out when out is
// non-nil. Non-2xx responses come back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("triage/client: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("triage/client: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("triage/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body, nothing to do

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var envelope struct {
			Error string `json:"error"`
		}
		// Best effort; some rejections carry no body.
		_ = json.NewDecoder(resp.Body).Decode(&envelope) //nolint:errcheck
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("triage/client: decode response: %w", err)
	}
	return nil
}
