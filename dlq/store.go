package dlq

import (
	"context"
	"time"

	"github.com/triagehq/triage/id"
)

// ListOpts controls pagination for dead-letter list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Store defines the persistence contract for the dead-letter archive.
type Store interface {
	// PushDLQ adds a dead-lettered job entry to the archive.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries, newest failure first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ stamps an entry as replayed. The re-submission itself is
	// handled at the service layer.
	ReplayDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries that failed before the given time and
	// returns how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of archived entries.
	CountDLQ(ctx context.Context) (int64, error)
}
