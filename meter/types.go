/*
Package meter manages named, persisted timed numbers.

PURPOSE:
  A Meter is a timed.Number with an identity, a name and a ledger. The
  Service keeps one live Number per meter, records every spend and refund
  attempt as an append-only Entry, and periodically checkpoints the live
  values so a restart resumes from where the process left off.

KEY CONCEPTS IN THIS FILE (types.go):
  - Meter:      Definition of a regenerating budget (config + identity)
  - Entry:      Immutable record of one spend/refund attempt
  - Checkpoint: Last persisted value of a meter, overwritten in place
  - Status:     Meter definition joined with its live snapshot

LEDGER VS CHECKPOINT:
  Regeneration ticks are not recorded, so the ledger alone cannot rebuild
  a value. The ledger explains what callers did; the checkpoint says where
  the value was when it was last saved.

SEE ALSO:
  - service.go: Service (live numbers, idempotency, checkpoints)
  - store.go:   Store persistence interface
*/
package meter

import (
	"time"

	"github.com/warp/regen-engine/timed"
)

// =============================================================================
// METER - A named regenerating budget
// =============================================================================

type Meter struct {
	ID        string
	Name      string
	Config    timed.Config
	CreatedAt time.Time
}

// =============================================================================
// ENTRY - Append-only record of a manual move
// =============================================================================

type EntryType string

const (
	EntrySpend  EntryType = "spend"
	EntryRefund EntryType = "refund"
)

// Entry records one spend or refund attempt. Rejected attempts are recorded
// too, with Accepted=false and ValueAfter equal to the unchanged value.
type Entry struct {
	ID             string
	MeterID        string
	Type           EntryType
	Amount         int64
	Accepted       bool
	ValueAfter     int64
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// CHECKPOINT
// =============================================================================

type Checkpoint struct {
	MeterID string
	Value   int64
	TakenAt time.Time
}

// =============================================================================
// READ MODELS
// =============================================================================

// Status is a meter joined with the live state of its number.
type Status struct {
	Meter    Meter
	Snapshot timed.Snapshot
}

// Result is the outcome of Spend or Refund.
type Result struct {
	Accepted bool
	Value    int64
	Entry    Entry
}
