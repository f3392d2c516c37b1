// Package audithook is a Triage extension that bridges lifecycle events
// to an audit trail backend.
//
// Every job, cron, and engine lifecycle hook emits a structured audit
// event through the [Recorder] interface. The extension assigns severity
// levels (info for normal operations, warning for retries, critical for
// dead letters) and metadata (job type, lane, attempts, elapsed time,
// errors). Recorder failures are logged and swallowed so a slow or down
// audit backend never stalls the job pipeline.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return trail.Append(ctx, evt.Action, evt.Resource, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobDeadLettered,
//	        audithook.ActionJobCancelled,
//	    ),
//	)
package audithook
