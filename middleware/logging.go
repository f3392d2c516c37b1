package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/triagehq/triage/job"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, rec *job.Record, next Handler) error {
		logger.Info("job attempt started",
			slog.String("job_type", rec.Type),
			slog.String("job_id", rec.ID.String()),
			slog.String("lane", rec.Priority.String()),
			slog.Int("attempt", rec.AttemptCount),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job attempt failed",
				slog.String("job_type", rec.Type),
				slog.String("job_id", rec.ID.String()),
				slog.Int("attempt", rec.AttemptCount),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("job_type", rec.Type),
				slog.String("job_id", rec.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
