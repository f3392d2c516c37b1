package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/triagehq/triage/backoff"
	"github.com/triagehq/triage/ext"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Extension)(nil)
	_ ext.JobEnqueued     = (*Extension)(nil)
	_ ext.JobStarted      = (*Extension)(nil)
	_ ext.JobCompleted    = (*Extension)(nil)
	_ ext.JobRetrying     = (*Extension)(nil)
	_ ext.JobDeadLettered = (*Extension)(nil)
	_ ext.JobCancelled    = (*Extension)(nil)
	_ ext.CronFired       = (*Extension)(nil)
	_ ext.Shutdown        = (*Extension)(nil)
)

// Defaults applied by New.
const (
	DefaultQueueSize   = 256
	DefaultMaxAttempts = 3
)

// Event is the JSON envelope delivered to every endpoint.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

// Headers set on every delivery request.
const (
	HeaderEvent     = "X-Triage-Event"
	HeaderDelivery  = "X-Triage-Delivery"
	HeaderSignature = "X-Triage-Signature"
)

// Sign computes the signature header value for a request body:
// "sha256=" followed by the hex HMAC-SHA256 of the body under secret.
// Receivers recompute it to authenticate deliveries.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// delivery is one marshaled event waiting in the queue. The body is
// serialized on the hook goroutine so later record mutations cannot
// leak into the payload.
type delivery struct {
	id        string
	eventType string
	body      []byte
}

// Extension delivers Triage lifecycle events to external HTTP endpoints
// as signed JSON webhooks. Events are queued in memory and posted by a
// single background goroutine, preserving emission order per endpoint.
// A full queue drops the event rather than stalling the engine.
type Extension struct {
	endpoints []string
	secret    []byte
	client    *http.Client
	strategy  backoff.Strategy
	attempts  int
	enabled   map[string]bool        // nil = all enabled
	payloads  map[string]PayloadFunc // custom payload builders
	logger    *slog.Logger

	mu      sync.RWMutex // guards stopped vs. queue close
	stopped bool
	queue   chan *delivery
	done    chan struct{}
	dropped atomic.Int64
}

// New creates an Extension that posts lifecycle events to the given
// endpoints and starts its delivery goroutine.
func New(endpoints []string, opts ...Option) *Extension {
	e := &Extension{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 10 * time.Second},
		strategy:  backoff.NewExponential(time.Second, 30*time.Second),
		attempts:  DefaultMaxAttempts,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.queue == nil {
		e.queue = make(chan *delivery, DefaultQueueSize)
	}
	e.done = make(chan struct{})
	go e.deliver()
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "webhook-sender" }

// Dropped returns the number of events discarded because the delivery
// queue was full.
func (e *Extension) Dropped() int64 { return e.dropped.Load() }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(_ context.Context, rec *job.Record) error {
	return e.emit(EventJobEnqueued, newJobPayload(rec))
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(_ context.Context, rec *job.Record) error {
	return e.emit(EventJobStarted, newJobPayload(rec))
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(_ context.Context, rec *job.Record, elapsed time.Duration) error {
	return e.emit(EventJobCompleted, &jobCompletedPayload{
		jobPayload: *newJobPayload(rec),
		ElapsedMs:  elapsed.Milliseconds(),
	})
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(_ context.Context, rec *job.Record, attempt int, nextRunAt time.Time) error {
	return e.emit(EventJobRetrying, &jobRetryingPayload{
		jobPayload: *newJobPayload(rec),
		Attempt:    attempt,
		NextRunAt:  nextRunAt.Format(time.RFC3339),
	})
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (e *Extension) OnJobDeadLettered(_ context.Context, rec *job.Record, jobErr error) error {
	return e.emit(EventJobDeadLettered, &jobDeadLetteredPayload{
		jobPayload: *newJobPayload(rec),
		Error:      jobErr.Error(),
	})
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(_ context.Context, rec *job.Record) error {
	return e.emit(EventJobCancelled, newJobPayload(rec))
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(_ context.Context, entryName string, jobID id.JobID) error {
	return e.emit(EventCronFired, &cronPayload{
		EntryName: entryName,
		JobID:     jobID.String(),
	})
}

// ── Engine lifecycle hooks ──────────────────────────

// OnShutdown implements ext.Shutdown. It stops accepting new events and
// waits for everything already queued to be delivered, up to the
// context deadline.
func (e *Extension) OnShutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.queue)
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook: drain interrupted: %w", ctx.Err())
	}
}

// ── Internal helpers ────────────────────────────────

func newJobPayload(rec *job.Record) *jobPayload {
	return &jobPayload{
		JobID:   rec.ID.String(),
		JobType: rec.Type,
		Lane:    rec.Priority.String(),
	}
}

// emit serializes one event and queues it for delivery if the event
// type is enabled. It never blocks.
func (e *Extension) emit(eventType string, defaultData any) error {
	if e.enabled != nil && !e.enabled[eventType] {
		return nil
	}

	data := defaultData
	if fn, ok := e.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			return err
		}
		data = custom
	}

	evt := &Event{
		ID:        id.NewDeliveryID().String(),
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("webhook: marshal %s event: %w", eventType, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return nil
	}

	select {
	case e.queue <- &delivery{id: evt.ID, eventType: eventType, body: body}:
	default:
		e.dropped.Add(1)
		e.logger.Warn("webhook: delivery queue full, event dropped",
			"event", eventType,
			"delivery_id", evt.ID,
		)
	}
	return nil
}

// deliver drains the queue until it is closed, posting each event to
// every endpoint in order.
func (e *Extension) deliver() {
	defer close(e.done)
	for d := range e.queue {
		for _, endpoint := range e.endpoints {
			e.post(endpoint, d)
		}
	}
}

// post sends one delivery to one endpoint, retrying with backoff. After
// the final failed attempt the event is logged and abandoned.
func (e *Extension) post(endpoint string, d *delivery) {
	for attempt := 1; ; attempt++ {
		err := e.send(endpoint, d)
		if err == nil {
			return
		}
		if attempt >= e.attempts {
			e.logger.Warn("webhook: delivery failed",
				"endpoint", endpoint,
				"event", d.eventType,
				"delivery_id", d.id,
				"attempts", attempt,
				"error", err,
			)
			return
		}
		time.Sleep(e.strategy.Delay(attempt))
	}
}

func (e *Extension) send(endpoint string, d *delivery) error {
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(d.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, d.eventType)
	req.Header.Set(HeaderDelivery, d.id)
	if len(e.secret) > 0 {
		req.Header.Set(HeaderSignature, Sign(e.secret, d.body))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // response body, nothing to do

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}
