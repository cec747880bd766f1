package eventlog

import "context"

// Store persists idempotency records and journal entries.
//
// InsertRecord must be first-writer-wins: a second insert of the same key
// fails with an already-exists error. SaveRecord writes r only if the stored
// version equals expectedVersion and bumps r.Version.
type Store interface {
	InsertRecord(ctx context.Context, r *Record) error
	GetRecord(ctx context.Context, key string) (*Record, error)
	SaveRecord(ctx context.Context, r *Record, expectedVersion int64) error

	AppendEntry(ctx context.Context, e *Entry) error
	// ListEntries returns entries for entityID oldest first. limit <= 0 means all.
	ListEntries(ctx context.Context, entityID string, limit int) ([]*Entry, error)
}
