/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, keeping the meter
  and timed domain types out of the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

TYPES:
  Meters:
    MeterDTO, CreateMeterRequest, EntryDTO

  Moves:
    MoveRequest, MoveResponse

  Date/time:
    FormatResponse, RangeResponse

VALIDATION:
  Validation is done in handlers and in factory.NumberFactory, not in
  DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/number.go: NumberJSON type
*/
package api

import (
	"time"

	"github.com/warp/regen-engine/factory"
	"github.com/warp/regen-engine/meter"
)

// =============================================================================
// METER TYPES
// =============================================================================

// MeterDTO represents a meter and its live value in API responses.
type MeterDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Value      int64  `json:"value"`
	Min        int64  `json:"min"`
	Max        int64  `json:"max"`
	Step       int64  `json:"step"`
	IntervalMs int64  `json:"interval_ms"`
	Direction  string `json:"direction"`
	CreatedAt  string `json:"created_at"`
}

// CreateMeterRequest is the body for creating a meter.
type CreateMeterRequest struct {
	Name   string             `json:"name"`
	Config factory.NumberJSON `json:"config"`
}

// EntryDTO represents a ledger entry.
type EntryDTO struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	Accepted       bool   `json:"accepted"`
	ValueAfter     int64  `json:"value_after"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// =============================================================================
// MOVE TYPES
// =============================================================================

// MoveRequest is the body for spend and refund. Amount is a pointer so a
// missing amount can be told apart from zero.
type MoveRequest struct {
	Amount         *int64 `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// MoveResponse reports whether the move was applied.
type MoveResponse struct {
	Accepted bool   `json:"accepted"`
	Value    int64  `json:"value"`
	EntryID  string `json:"entry_id"`
}

// =============================================================================
// DATE/TIME TYPES
// =============================================================================

type FormatResponse struct {
	Timestamp int64  `json:"timestamp"`
	Formatted string `json:"formatted"`
}

type RangeResponse struct {
	Count int      `json:"count"`
	Dates []string `json:"dates"`
}

// =============================================================================
// MISC
// =============================================================================

type HealthResponse struct {
	Status string `json:"status"`
	Meters int    `json:"meters"`
}

type CheckpointResponse struct {
	Saved int `json:"saved"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toMeterDTO(st meter.Status) MeterDTO {
	return MeterDTO{
		ID:         st.Meter.ID,
		Name:       st.Meter.Name,
		Value:      st.Snapshot.Value,
		Min:        st.Snapshot.Min,
		Max:        st.Snapshot.Max,
		Step:       st.Snapshot.Step,
		IntervalMs: st.Snapshot.Interval.Milliseconds(),
		Direction:  st.Snapshot.Direction.String(),
		CreatedAt:  st.Meter.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(e meter.Entry) EntryDTO {
	return EntryDTO{
		ID:             e.ID,
		Type:           string(e.Type),
		Amount:         e.Amount,
		Accepted:       e.Accepted,
		ValueAfter:     e.ValueAfter,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339Nano),
	}
}
