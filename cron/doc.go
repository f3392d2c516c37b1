// Package cron provides in-process recurring job scheduling.
//
// Cron entries live in the scheduler's memory and fire on a tick loop.
// When an entry comes due the scheduler enqueues the configured job
// through the engine and advances the entry's NextRunAt.
//
// # Entry
//
// An [Entry] represents a recurring job schedule:
//   - Schedule: standard cron expression (e.g., "0 9 * * 1-5") or a
//     descriptor like "@every 30s"
//   - JobName: the registered job type to enqueue when fired
//   - Priority: target lane for the enqueued job
//   - Payload: static JSON payload passed to every triggered job
//   - Enabled: whether the entry fires
//
// # Registering a Cron
//
// Use engine.RegisterCron to add a cron entry at startup:
//
//	engine.RegisterCron(eng, "daily-report", "0 9 * * *",
//	    "generate_report", ReportInput{Format: "pdf"})
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, enqueues the
// corresponding job, and updates LastRunAt and NextRunAt. The
// [ext.CronFired] extension hook fires after each enqueue.
package cron
