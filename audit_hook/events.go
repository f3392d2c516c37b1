package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued     = "job.enqueued"
	ActionJobStarted      = "job.started"
	ActionJobCompleted    = "job.completed"
	ActionJobRetrying     = "job.retrying"
	ActionJobDeadLettered = "job.dead_lettered"
	ActionJobCancelled    = "job.cancelled"
	ActionCronFired       = "cron.fired"
	ActionEngineShutdown  = "engine.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryJob    = "triage.job"
	CategoryCron   = "triage.cron"
	CategoryEngine = "triage.engine"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob    = "job"
	ResourceCron   = "cron_entry"
	ResourceEngine = "engine"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobDeadLettered,
		ActionJobCancelled,
		ActionCronFired,
		ActionEngineShutdown,
	}
}
