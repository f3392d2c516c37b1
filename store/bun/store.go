package bunstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/triagehq/triage/dlq"
	"github.com/triagehq/triage/job"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is a Bun ORM implementation of store.Store. The caller owns the
// *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun store. The caller owns the db lifecycle — the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate creates the schema from the model definitions. The DDL is
// generated per dialect, so the same call works on PostgreSQL and SQLite.
func (s *Store) Migrate(ctx context.Context) error {
	models := []interface{}{
		(*jobModel)(nil),
		(*dlqEntryModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("triage/bun: create table: %w", err)
		}
	}

	if _, err := s.db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_triage_jobs_state").
		Column("state", "created_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("triage/bun: create jobs index: %w", err)
	}

	if _, err := s.db.NewCreateIndex().
		Model((*dlqEntryModel)(nil)).
		Index("idx_triage_dlq_failed_at").
		Column("failed_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("triage/bun: create dlq index: %w", err)
	}

	s.logger.Debug("schema ready")
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
