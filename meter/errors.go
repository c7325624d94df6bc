package meter

import (
	"errors"
	"fmt"

	"github.com/warp/regen-engine/timed"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMeterNotFound is returned when a referenced meter doesn't exist.
	ErrMeterNotFound = errors.New("meter not found")

	// ErrDuplicateIdempotencyKey is returned when a spend or refund reuses a
	// key. The original entry is left untouched.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidAmount is returned for negative spend/refund amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidName is returned when a meter is created without a name.
	ErrInvalidName = errors.New("meter name is required")

	// ErrServiceClosed is returned by mutating calls after Close.
	ErrServiceClosed = errors.New("meter service closed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NotFoundError names the missing meter.
type NotFoundError struct {
	MeterID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("meter not found: %s", e.MeterID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrMeterNotFound
}

// DuplicateKeyError carries the key that was reused.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate idempotency key: %q", e.Key)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateIdempotencyKey
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing meter.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMeterNotFound)
}

// IsConflict returns true if the error is a reused idempotency key.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, timed.ErrInvalidConfig)
}
