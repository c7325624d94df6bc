package timed

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is the sentinel behind every construction failure.
var ErrInvalidConfig = errors.New("invalid timed number config")

// InvalidConfigError names the offending field.
type InvalidConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidConfigError) Unwrap() error {
	return ErrInvalidConfig
}

func invalid(field string, value any, reason string) error {
	return &InvalidConfigError{Field: field, Value: value, Reason: reason}
}
