package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/triagehq/triage/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace, so a
// panicking handler counts as a failed attempt instead of killing a worker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, rec *job.Record, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("job_type", rec.Type),
					slog.String("job_id", rec.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in job %s: %v", rec.Type, r)
			}
		}()
		return next(ctx)
	}
}
