package webhook

import (
	"log/slog"
	"net/http"

	"github.com/triagehq/triage/backoff"
)

// Option configures an Extension.
type Option func(*Extension)

// PayloadFunc builds a custom event payload for a specific event type.
// It receives the default payload and the returned value becomes
// Event.Data.
type PayloadFunc func(defaultData any) (any, error)

// WithEvents restricts the extension to emit only the listed event types.
// By default all 7 event types are enabled. Unknown types are silently
// ignored.
func WithEvents(events ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(events))
		for _, ev := range events {
			e.enabled[ev] = true
		}
	}
}

// WithPayloadFunc registers a custom payload builder for the given event
// type. The function replaces the default JSON payload for that event.
func WithPayloadFunc(eventType string, fn PayloadFunc) Option {
	return func(e *Extension) {
		if e.payloads == nil {
			e.payloads = make(map[string]PayloadFunc)
		}
		e.payloads[eventType] = fn
	}
}

// WithSecret sets the shared secret used to sign delivery bodies. With
// no secret the signature header is omitted.
func WithSecret(secret string) Option {
	return func(e *Extension) { e.secret = []byte(secret) }
}

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(e *Extension) { e.client = c }
}

// WithBackoff replaces the delay strategy applied between failed
// delivery attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(e *Extension) { e.strategy = s }
}

// WithMaxAttempts sets how many times each delivery is attempted per
// endpoint before being abandoned.
func WithMaxAttempts(n int) Option {
	return func(e *Extension) {
		if n > 0 {
			e.attempts = n
		}
	}
}

// WithQueueSize sets the delivery queue capacity. Events emitted while
// the queue is full are dropped.
func WithQueueSize(n int) Option {
	return func(e *Extension) {
		if n > 0 {
			e.queue = make(chan *delivery, n)
		}
	}
}

// WithLogger sets a custom logger for the extension.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}
