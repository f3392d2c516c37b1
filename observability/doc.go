// Package observability provides an OpenTelemetry metrics extension for
// Triage. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for job enqueue, completion, retry, dead letter,
// cancellation, and cron events.
//
// For per-attempt tracing and duration histograms, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
