package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/triagehq/triage/ext"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobEnqueued     = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobRetrying     = (*MetricsExtension)(nil)
	_ ext.JobDeadLettered = (*MetricsExtension)(nil)
	_ ext.JobCancelled    = (*MetricsExtension)(nil)
	_ ext.CronFired       = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/triagehq/triage/observability"

// MetricsExtension records system-wide lifecycle counters through
// OpenTelemetry. Register it as an engine extension to track enqueue
// rates, completions, retries, dead letters, cancellations, and cron
// fires — the engine-level view that complements the per-attempt
// histograms recorded by middleware.Metrics.
type MetricsExtension struct {
	enqueued     metric.Int64Counter
	completed    metric.Int64Counter
	retried      metric.Int64Counter
	deadLettered metric.Int64Counter
	cancelled    metric.Int64Counter
	cronFired    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If none is configured, noop instruments are used and
// every hook becomes a pass-through.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific MeterProvider
// for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.enqueued, _ = meter.Int64Counter("triage.jobs.enqueued",
		metric.WithDescription("Total jobs accepted into a lane"),
		metric.WithUnit("{job}"))
	m.completed, _ = meter.Int64Counter("triage.jobs.completed",
		metric.WithDescription("Total jobs that finished successfully"),
		metric.WithUnit("{job}"))
	m.retried, _ = meter.Int64Counter("triage.jobs.retried",
		metric.WithDescription("Total retry re-enqueues after failed attempts"),
		metric.WithUnit("{retry}"))
	m.deadLettered, _ = meter.Int64Counter("triage.jobs.dead_lettered",
		metric.WithDescription("Total jobs moved to the dead letter queue"),
		metric.WithUnit("{job}"))
	m.cancelled, _ = meter.Int64Counter("triage.jobs.cancelled",
		metric.WithDescription("Total jobs cancelled before execution"),
		metric.WithUnit("{job}"))
	m.cronFired, _ = meter.Int64Counter("triage.cron.fired",
		metric.WithDescription("Total cron entry fires"),
		metric.WithUnit("{fire}"))

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// jobAttrs returns the attribute set shared by all job counters.
func jobAttrs(rec *job.Record) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_type", rec.Type),
		attribute.String("lane", rec.Priority.String()),
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, rec *job.Record) error {
	m.enqueued.Add(ctx, 1, jobAttrs(rec))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, rec *job.Record, _ time.Duration) error {
	m.completed.Add(ctx, 1, jobAttrs(rec))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, rec *job.Record, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, jobAttrs(rec))
	return nil
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (m *MetricsExtension) OnJobDeadLettered(ctx context.Context, rec *job.Record, _ error) error {
	m.deadLettered.Add(ctx, 1, jobAttrs(rec))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, rec *job.Record) error {
	m.cancelled.Add(ctx, 1, jobAttrs(rec))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.cronFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entry", entryName),
	))
	return nil
}
