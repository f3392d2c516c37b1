package webhook

// Triage lifecycle event types. Each constant maps to one ext lifecycle
// hook and is used as the Event.Type of the delivered webhook.
const (
	EventJobEnqueued     = "triage.job.enqueued"
	EventJobStarted      = "triage.job.started"
	EventJobCompleted    = "triage.job.completed"
	EventJobRetrying     = "triage.job.retrying"
	EventJobDeadLettered = "triage.job.dead_lettered"
	EventJobCancelled    = "triage.job.cancelled"
	EventCronFired       = "triage.cron.fired"
)

// AllEvents returns every event type this extension can emit.
func AllEvents() []string {
	return []string{
		EventJobEnqueued,
		EventJobStarted,
		EventJobCompleted,
		EventJobRetrying,
		EventJobDeadLettered,
		EventJobCancelled,
		EventCronFired,
	}
}

// ── Default payload types ───────────────────────────

type jobPayload struct {
	JobID   string `json:"job_id"`
	JobType string `json:"job_type"`
	Lane    string `json:"lane"`
}

type jobCompletedPayload struct {
	jobPayload
	ElapsedMs int64 `json:"elapsed_ms"`
}

type jobRetryingPayload struct {
	jobPayload
	Attempt   int    `json:"attempt"`
	NextRunAt string `json:"next_run_at"`
}

type jobDeadLetteredPayload struct {
	jobPayload
	Error string `json:"error"`
}

type cronPayload struct {
	EntryName string `json:"entry_name"`
	JobID     string `json:"job_id"`
}
