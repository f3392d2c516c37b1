package middleware

import (
	"context"
	"log/slog"

	"github.com/triagehq/triage/job"
)

// Timeout returns middleware that arms the handler context with the
// record's execution deadline. Cooperative handlers observe the
// cancellation and return early; the worker's hard timeout remains the
// backstop for handlers that ignore their context.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, rec *job.Record, next Handler) error {
		if rec.Timeout > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", rec.ID.String()),
				slog.Duration("timeout", rec.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, rec.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
