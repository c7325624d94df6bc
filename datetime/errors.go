package datetime

import (
	"errors"
	"fmt"
	"strings"
)

// ErrParse is returned (wrapped in *ParseError) when a date string matches
// none of the candidate layouts.
var ErrParse = errors.New("unparseable date")

// ParseError reports which layouts were tried and why the last one failed.
type ParseError struct {
	Value   string
	Layouts []string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q with layouts [%s]: %s",
		e.Value, strings.Join(e.Layouts, ", "), e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}
