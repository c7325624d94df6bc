/*
Package datetime provides a naive wall-clock value built on millisecond timestamps.

PURPOSE:
  DateTime wraps a count of milliseconds since the epoch together with an
  optional default layout. It renders and parses single-character layout
  tokens (see format.go), shifts itself by whole days or hours, and
  enumerates the days between two instants.

NAIVE TIME:
  There is no timezone handling. Every instant is read in UTC and all
  arithmetic is flat millisecond arithmetic: a "day" is always 86,400,000ms.

USAGE:
  d, err := datetime.Create("2015-01-01 00:00:00.000", "Y-m-d H:M:S.N")
  if err != nil {
      return err
  }
  d.OffsetInHours(25)
  d.Format("")        // "2015-01-02 01:00:00.000"
  d.Format("w, f d")  // "Fri, January 02"

SEE ALSO:
  - format.go: Token table and renderer
  - parse.go:  Layout-driven parser
  - errors.go: ParseError
*/
package datetime

import "time"

const (
	// MillisPerHour is the length of one offset hour.
	MillisPerHour int64 = 60 * 60 * 1000
	// MillisPerDay is the length of one offset day.
	MillisPerDay int64 = 24 * MillisPerHour
)

// DateTime is a mutable millisecond timestamp with an optional default layout.
// It is not safe for concurrent mutation.
type DateTime struct {
	millis int64
	layout string
}

// Create builds a DateTime from value using the system clock when value is empty.
func Create(value, layout string) (*DateTime, error) {
	return CreateWithClock(SystemClock{}, value, layout)
}

// CreateWithClock builds a DateTime. An empty value reads the current instant
// from clock; otherwise value is parsed against layout and then against the
// built-in layouts. layout becomes the default template for Format.
func CreateWithClock(clock Clock, value, layout string) (*DateTime, error) {
	if value == "" {
		return &DateTime{millis: clock.Now().UnixMilli(), layout: layout}, nil
	}

	ms, err := parse(value, layout)
	if err != nil {
		return nil, err
	}
	return &DateTime{millis: ms, layout: layout}, nil
}

// FromMillis wraps an existing timestamp.
func FromMillis(ms int64, layout string) *DateTime {
	return &DateTime{millis: ms, layout: layout}
}

// Now returns the stored timestamp in milliseconds.
func (d *DateTime) Now() int64 { return d.millis }

// Layout returns the default template, which may be empty.
func (d *DateTime) Layout() string { return d.layout }

// Time returns the instant as a UTC time.Time.
func (d *DateTime) Time() time.Time { return time.UnixMilli(d.millis).UTC() }

// Clone returns an independent copy.
func (d *DateTime) Clone() *DateTime {
	c := *d
	return &c
}

func (d *DateTime) String() string { return d.Format("") }

// OffsetInDays moves the instant by n days (n may be negative).
func (d *DateTime) OffsetInDays(n int) *DateTime {
	d.millis += int64(n) * MillisPerDay
	return d
}

// OffsetInHours moves the instant by n hours (n may be negative).
func (d *DateTime) OffsetInHours(n int) *DateTime {
	d.millis += int64(n) * MillisPerHour
	return d
}

// DatesInRange returns one DateTime per whole day from d up to end, starting
// with d itself. The result has floor((end-d)/day)+1 elements and each
// element keeps d's layout. An end before d yields an empty slice.
func (d *DateTime) DatesInRange(end *DateTime) []*DateTime {
	if end.millis < d.millis {
		return []*DateTime{}
	}

	count := (end.millis-d.millis)/MillisPerDay + 1
	days := make([]*DateTime, 0, count)
	for i := int64(0); i < count; i++ {
		days = append(days, FromMillis(d.millis+i*MillisPerDay, d.layout))
	}
	return days
}
