// Package webhook is a Triage extension that delivers lifecycle events
// to external HTTP endpoints as signed JSON webhooks.
//
// Events are queued in memory and posted by a single background
// goroutine, so hook calls never block the engine and each endpoint
// sees events in emission order. Failed deliveries are retried with
// backoff; a full queue drops events rather than stalling dispatch.
// When a secret is configured every request carries an HMAC-SHA256
// signature header that receivers verify by recomputing [Sign] over
// the raw body.
//
// Usage:
//
//	hook := webhook.New(
//	    []string{"https://ops.example.com/hooks/triage"},
//	    webhook.WithSecret(os.Getenv("TRIAGE_WEBHOOK_SECRET")),
//	)
//	eng, err := engine.New(engine.WithExtension(hook))
//
// To restrict which events are emitted:
//
//	webhook.New(endpoints,
//	    webhook.WithEvents(
//	        webhook.EventJobDeadLettered,
//	        webhook.EventJobCancelled,
//	    ),
//	)
package webhook
