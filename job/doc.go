// Package job defines the job record, its state machine, priority lanes,
// typed definitions, and the persistence contract.
//
// # Job Record
//
// A [Record] represents a unit of work. It embeds [triage.Entity] for
// timestamps, carries an opaque JSON payload, and progresses through a
// state machine:
//
//	pending → running → completed
//	pending → running → failed → retrying → pending → ...
//	pending → running → failed → dead_lettered
//	pending → cancelled
//	retrying → cancelled
//
// Completed, dead_lettered, and cancelled are terminal. Failed is a
// momentary state: the executor resolves it to retrying or dead_lettered
// within the same failure handling, so a status read never rests on it.
//
// Fields of note:
//   - Priority: one of the four lanes; immutable after submission
//   - MaxAttempts / AttemptCount: the retry budget and its consumption
//   - RunAt: earliest time the record may be dispatched
//   - Timeout: hard per-attempt execution deadline
//   - Result: success payload, set only on completion
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized at
// submission time and deserialized before the handler runs; the handler's
// return value becomes the record's result:
//
//	var Resize = job.NewDefinition("resize_image",
//	    func(ctx context.Context, in ResizeInput) (ResizeOutput, error) {
//	        return imaging.Resize(ctx, in)
//	    },
//	)
//
// # Registry
//
// [Registry] maps job type names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]; the engine
// seals the registry before workers start, after which registration fails.
package job
