package job

import "time"

// Options configures per-job behavior such as the retry budget, lane,
// timeout, and completion callback.
type Options struct {
	// MaxAttempts is the total execution budget before dead-lettering.
	MaxAttempts int

	// Priority selects the lane. Immutable once the job is submitted.
	Priority Priority

	// Timeout is the hard wall-clock budget per attempt.
	Timeout time.Duration

	// RunAt schedules the job for future dispatch. Zero means immediate.
	RunAt time.Time

	// Callback is invoked exactly once when the job reaches a terminal
	// state. Optional, in-memory only.
	Callback Callback
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Priority:    PriorityNormal,
		Timeout:     300 * time.Second,
	}
}

// Option is a functional option for per-job configuration.
type Option func(*Options)

// WithMaxAttempts sets the total execution budget before dead-lettering.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithPriority selects the job's lane.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the hard execution budget per attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the job for dispatch at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithCallback attaches a terminal-state callback to the job.
func WithCallback(cb Callback) Option {
	return func(o *Options) {
		o.Callback = cb
	}
}
