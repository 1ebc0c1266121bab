package store

import (
	"context"
)

// Store persists the audit trail: conflict records, broadcast events and
// service runs. In-memory state stays authoritative; this exists so an
// operator can review what happened after the fact.
type Store interface {
	// Conflicts
	UpsertConflict(ctx context.Context, conflict *ConflictRecord) error
	MarkConflictResolved(ctx context.Context, id string, strategy string) error
	ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*ConflictRecord, error)

	// Event audit
	AppendEvents(ctx context.Context, events []*EventRecord) error

	// Service runs
	CreateSyncRun(ctx context.Context, run *SyncRun) error
	FinishSyncRun(ctx context.Context, run *SyncRun) error

	Close() error
}
