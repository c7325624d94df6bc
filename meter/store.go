/*
store.go - Persistence interface for meters, entries and checkpoints

PURPOSE:
  Defines the boundary between the meter service and the database.
  Meters are created and deleted, entries are append-only, checkpoints are
  upserted one row per meter.

IDEMPOTENCY:
  AppendEntry rejects an entry whose non-empty IdempotencyKey already
  exists with ErrDuplicateIdempotencyKey. Empty keys are never compared.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - meter/store/memory.go:  In-memory for tests and dev

SEE ALSO:
  - service.go: The only caller
*/
package meter

import "context"

// Store persists meter definitions, their ledgers and checkpoints.
type Store interface {
	// SaveMeter inserts or replaces a meter definition.
	SaveMeter(ctx context.Context, m Meter) error

	// GetMeter returns ErrMeterNotFound when the id is unknown.
	GetMeter(ctx context.Context, id string) (Meter, error)

	// ListMeters returns every meter ordered by CreatedAt.
	ListMeters(ctx context.Context) ([]Meter, error)

	// DeleteMeter removes the meter and its checkpoint. Entries are kept.
	DeleteMeter(ctx context.Context, id string) error

	// AppendEntry adds a ledger entry. Append-only.
	AppendEntry(ctx context.Context, e Entry) error

	// LoadEntries returns up to limit entries, newest first. limit <= 0
	// means no limit.
	LoadEntries(ctx context.Context, meterID string, limit int) ([]Entry, error)

	// KeyExists checks whether an idempotency key was already used.
	KeyExists(ctx context.Context, key string) (bool, error)

	// SaveCheckpoint upserts the checkpoint for cp.MeterID.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error

	// LoadCheckpoint returns nil, nil when no checkpoint exists.
	LoadCheckpoint(ctx context.Context, meterID string) (*Checkpoint, error)
}
