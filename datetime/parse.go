package datetime

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// builtinLayouts are tried, in order, after the caller's layout.
var builtinLayouts = []string{
	"Y-m-d H:M:S.N",
	"Y-m-d H:M:S",
	"Y-m-d",
}

// parse reads value as a naive wall-clock string and returns its timestamp.
// The caller's layout is tried first; the reported reason is the failure
// against the first candidate.
func parse(value, layout string) (int64, error) {
	candidates := make([]string, 0, len(builtinLayouts)+1)
	if layout != "" {
		candidates = append(candidates, layout)
	}
	for _, l := range builtinLayouts {
		if l != layout {
			candidates = append(candidates, l)
		}
	}

	var reason string
	for _, l := range candidates {
		ms, err := parseLayout(value, l)
		if err == nil {
			return ms, nil
		}
		if reason == "" {
			reason = err.Error()
		}
	}
	return 0, &ParseError{Value: value, Layouts: candidates, Reason: reason}
}

type fields struct {
	year, month, day         int
	hour, minute, second, ms int
	twelveHour               bool
	weekday                  int // -1 when the layout has no weekday token
}

func parseLayout(value, layout string) (int64, error) {
	f := fields{year: 1970, month: 1, day: 1, weekday: -1}
	pos := 0

	for _, r := range layout {
		var err error
		switch r {
		case 'Y':
			f.year, pos, err = readDigits(value, pos, 4, 4)
		case 'y':
			f.year, pos, err = readDigits(value, pos, 2, 2)
			f.year += 2000
		case 'm':
			f.month, pos, err = readDigits(value, pos, 1, 2)
		case 'd':
			f.day, pos, err = readDigits(value, pos, 1, 2)
		case 'H':
			f.hour, pos, err = readDigits(value, pos, 1, 2)
		case 'I':
			f.hour, pos, err = readDigits(value, pos, 1, 2)
			f.twelveHour = true
		case 'M':
			f.minute, pos, err = readDigits(value, pos, 1, 2)
		case 'S':
			f.second, pos, err = readDigits(value, pos, 1, 2)
		case 'N':
			f.ms, pos, err = readDigits(value, pos, 1, 3)
		case 'w':
			f.weekday, pos, err = readName(value, pos, weekdayName, 7, true)
		case 'W':
			f.weekday, pos, err = readName(value, pos, weekdayName, 7, false)
		case 'n':
			f.month, pos, err = readName(value, pos, monthName, 12, true)
			f.month++
		case 'f':
			f.month, pos, err = readName(value, pos, monthName, 12, false)
			f.month++
		default:
			if !strings.HasPrefix(value[pos:], string(r)) {
				return 0, fmt.Errorf("expected %q at offset %d", r, pos)
			}
			pos += utf8.RuneLen(r)
		}
		if err != nil {
			return 0, err
		}
	}

	if pos != len(value) {
		return 0, fmt.Errorf("unexpected trailing text %q", value[pos:])
	}
	return f.timestamp()
}

func (f fields) timestamp() (int64, error) {
	if f.twelveHour {
		if f.hour < 1 || f.hour > 12 {
			return 0, fmt.Errorf("12-hour value %d out of range", f.hour)
		}
		f.hour %= 12
	}

	switch {
	case f.month < 1 || f.month > 12:
		return 0, fmt.Errorf("month %d out of range", f.month)
	case f.hour > 23:
		return 0, fmt.Errorf("hour %d out of range", f.hour)
	case f.minute > 59:
		return 0, fmt.Errorf("minute %d out of range", f.minute)
	case f.second > 59:
		return 0, fmt.Errorf("second %d out of range", f.second)
	}

	t := time.Date(f.year, time.Month(f.month), f.day, f.hour, f.minute, f.second,
		f.ms*int(time.Millisecond), time.UTC)

	// time.Date normalizes overflowing days into the next month.
	if f.day < 1 || t.Day() != f.day {
		return 0, fmt.Errorf("day %d out of range for %s %d", f.day, time.Month(f.month), f.year)
	}
	if f.weekday >= 0 && int(t.Weekday()) != f.weekday {
		return 0, fmt.Errorf("%s is a %s, not a %s",
			t.Format("2006-01-02"), t.Weekday(), time.Weekday(f.weekday))
	}
	return t.UnixMilli(), nil
}

// readDigits consumes between minWidth and maxWidth ASCII digits.
func readDigits(value string, pos, minWidth, maxWidth int) (int, int, error) {
	n, width := 0, 0
	for width < maxWidth && pos+width < len(value) {
		c := value[pos+width]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
		width++
	}
	if width < minWidth {
		return 0, pos, fmt.Errorf("expected %d digit(s) at offset %d", minWidth, pos)
	}
	return n, pos + width, nil
}

func weekdayName(i int) string { return time.Weekday(i).String() }
func monthName(i int) string   { return time.Month(i + 1).String() }

// readName matches one of count names and returns its index.
func readName(value string, pos int, name func(int) string, count int, short bool) (int, int, error) {
	for i := 0; i < count; i++ {
		candidate := name(i)
		if short {
			candidate = shortName(candidate)
		}
		if strings.HasPrefix(value[pos:], candidate) {
			return i, pos + len(candidate), nil
		}
	}
	return 0, pos, fmt.Errorf("no name matches at offset %d", pos)
}
