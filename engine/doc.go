// Package engine wires the triage subsystems together and provides the
// application-level API for registering, submitting, and inspecting
// jobs.
//
// The engine package sits above all subsystem packages (job, lane,
// track, worker, retry, dlq, cron) and below the application layer; the
// root triage package defines the shared types those subsystems import
// and therefore cannot hold the wiring itself.
//
// # Building an Engine
//
//	eng, err := engine.New(
//	    engine.WithStore(pgStore),
//	    engine.WithWorkers(8),
//	    engine.WithExtension(stream.NewBroker(logger)),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Registering and Submitting Work
//
//	engine.Register(eng, job.NewDefinition("send-email", sendEmail))
//
//	jobID, err := engine.Enqueue(ctx, eng, "send-email", EmailInput{To: "user@example.com"},
//	    job.WithPriority(job.PriorityHigh),
//	    job.WithMaxAttempts(5),
//	)
//
// Raw []byte payloads go through [Engine.Submit] directly.
//
// # Lifecycle
//
// [Engine.Start] seals the handler registry, recovers persisted jobs
// from the store, and starts the schedulers and the worker pool.
// [Engine.Stop] drains gracefully within the configured shutdown
// timeout; anything still queued stays persisted and is recovered on
// the next start.
package engine
