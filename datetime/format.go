package datetime

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLayout is used by Format when neither a template nor a stored layout is set.
const DefaultLayout = "Y-m-d H:M:S.N"

// =============================================================================
// TOKEN TABLE
// =============================================================================

// renderers maps each layout token to the field it renders. Characters that
// are not in the table are copied to the output unchanged.
var renderers = map[rune]func(t time.Time) string{
	'Y': func(t time.Time) string { return fmt.Sprintf("%04d", t.Year()) },
	'y': func(t time.Time) string { return fmt.Sprintf("%02d", t.Year()%100) },
	'm': func(t time.Time) string { return fmt.Sprintf("%02d", int(t.Month())) },
	'd': func(t time.Time) string { return fmt.Sprintf("%02d", t.Day()) },
	'H': func(t time.Time) string { return fmt.Sprintf("%02d", t.Hour()) },
	'I': func(t time.Time) string { return fmt.Sprintf("%02d", twelveHour(t.Hour())) },
	'M': func(t time.Time) string { return fmt.Sprintf("%02d", t.Minute()) },
	'S': func(t time.Time) string { return fmt.Sprintf("%02d", t.Second()) },
	'N': func(t time.Time) string { return fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond)) },
	'w': func(t time.Time) string { return shortName(t.Weekday().String()) },
	'W': func(t time.Time) string { return t.Weekday().String() },
	'n': func(t time.Time) string { return shortName(t.Month().String()) },
	'f': func(t time.Time) string { return t.Month().String() },
}

func twelveHour(h int) int {
	if h%12 == 0 {
		return 12
	}
	return h % 12
}

func shortName(s string) string { return s[:3] }

// Format renders the instant with template. An empty template falls back to
// the stored layout and then to DefaultLayout.
//
// The template is scanned once, left to right, so output produced by one
// token is never re-read as another token.
func (d *DateTime) Format(template string) string {
	if template == "" {
		template = d.layout
	}
	if template == "" {
		template = DefaultLayout
	}

	t := d.Time()
	var b strings.Builder
	b.Grow(len(template) + 8)
	for _, r := range template {
		if render, ok := renderers[r]; ok {
			b.WriteString(render(t))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
