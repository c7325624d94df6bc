/*
Package factory converts JSON timed-number definitions into timed.Config.

PURPOSE:
  JSON is the boundary where a caller can hand us "10" instead of 10, or
  [1, 2, 3] instead of an interval. Go's type system rules that out for
  callers of timed.New directly, so this package is where those inputs are
  rejected with the same *timed.InvalidConfigError the validator uses.

JSON SCHEMA:
  {
    "init": 10,
    "max": 10,
    "min": 0,
    "interval": 10,      // milliseconds
    "step": 1,
    "type": "inc"        // inc | increasing | dec | decreasing
  }

NUMERIC RULES:
  Each numeric field must be a JSON number token that is an exact integer
  representable as int64. 10, 10.0 and 1e1 are accepted; "10", 10.5, null,
  true, [10] and a missing field are not. Parsing goes through
  decimal.Decimal so large values are never rounded through float64.

USAGE:
  f := factory.NewNumberFactory()
  cfg, err := f.ParseConfig([]byte(body))
  if errors.Is(err, timed.ErrInvalidConfig) {
      // 400
  }
  n, err := timed.New(cfg)

SEE ALSO:
  - timed/config.go: Config.Validate (semantic rules)
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/regen-engine/timed"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// NumberJSON is the wire form of a timed number. Fields stay raw so the
// factory can tell a number token from a string or an array.
type NumberJSON struct {
	Init     json.RawMessage `json:"init"`
	Max      json.RawMessage `json:"max"`
	Min      json.RawMessage `json:"min"`
	Interval json.RawMessage `json:"interval"`
	Step     json.RawMessage `json:"step"`
	Type     json.RawMessage `json:"type"`
}

// NewNumberJSON builds the wire form from plain values, mainly for clients
// and tests.
func NewNumberJSON(cfg timed.Config) NumberJSON {
	num := func(v int64) json.RawMessage { return json.RawMessage(fmt.Sprintf("%d", v)) }
	typ, _ := json.Marshal(string(cfg.Type))
	return NumberJSON{
		Init:     num(cfg.Init),
		Max:      num(cfg.Max),
		Min:      num(cfg.Min),
		Interval: num(cfg.Interval.Milliseconds()),
		Step:     num(cfg.Step),
		Type:     typ,
	}
}

// =============================================================================
// NUMBER FACTORY
// =============================================================================

// NumberFactory converts JSON definitions to validated configs.
type NumberFactory struct{}

func NewNumberFactory() *NumberFactory {
	return &NumberFactory{}
}

// ParseConfig decodes and validates a JSON object.
func (f *NumberFactory) ParseConfig(data []byte) (timed.Config, error) {
	var nj NumberJSON
	if err := json.Unmarshal(data, &nj); err != nil {
		return timed.Config{}, fmt.Errorf("failed to parse timed number JSON: %w", err)
	}
	return f.FromJSON(nj)
}

// FromJSON checks field types, converts units and runs Config.Validate.
func (f *NumberFactory) FromJSON(nj NumberJSON) (timed.Config, error) {
	var (
		cfg        timed.Config
		intervalMs int64
		err        error
	)

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *int64
	}{
		{"init", nj.Init, &cfg.Init},
		{"max", nj.Max, &cfg.Max},
		{"min", nj.Min, &cfg.Min},
		{"interval", nj.Interval, &intervalMs},
		{"step", nj.Step, &cfg.Step},
	}
	for _, fd := range fields {
		if *fd.dst, err = parseInteger(fd.name, fd.raw); err != nil {
			return timed.Config{}, err
		}
	}

	if intervalMs > math.MaxInt64/int64(time.Millisecond) {
		return timed.Config{}, &timed.InvalidConfigError{Field: "interval", Value: intervalMs, Reason: "too large"}
	}
	cfg.Interval = time.Duration(intervalMs) * time.Millisecond

	typ, err := parseString("type", nj.Type)
	if err != nil {
		return timed.Config{}, err
	}
	cfg.Type = timed.Direction(typ)

	if err := cfg.Validate(); err != nil {
		return timed.Config{}, err
	}
	return cfg, nil
}

const (
	// maxExponent is the largest power of ten below math.MaxInt64.
	maxExponent       = 18
	maxFractionDigits = 32
)

var (
	minInt64 = decimal.NewFromInt(math.MinInt64)
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
)

func parseInteger(field string, raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, &timed.InvalidConfigError{Field: field, Value: nil, Reason: "is required"}
	}

	// A JSON number token starts with a digit or a minus sign; anything else
	// is a string, array, object, boolean or null.
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return 0, &timed.InvalidConfigError{Field: field, Value: string(raw), Reason: "must be a number"}
	}

	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return 0, &timed.InvalidConfigError{Field: field, Value: string(raw), Reason: "must be a number"}
	}
	// Comparing against the int64 bounds rescales to a 10^exp big.Int, so
	// exponents no int64 can carry are rejected first.
	if exp := d.Exponent(); exp > maxExponent {
		return 0, &timed.InvalidConfigError{Field: field, Value: string(raw), Reason: "out of range"}
	} else if exp < -maxFractionDigits {
		return 0, &timed.InvalidConfigError{Field: field, Value: string(raw), Reason: "must be an integer"}
	}
	if !d.IsInteger() {
		return 0, &timed.InvalidConfigError{Field: field, Value: d.String(), Reason: "must be an integer"}
	}
	if d.LessThan(minInt64) || d.GreaterThan(maxInt64) {
		return 0, &timed.InvalidConfigError{Field: field, Value: d.String(), Reason: "out of range"}
	}
	return d.IntPart(), nil
}

func parseString(field string, raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", &timed.InvalidConfigError{Field: field, Value: nil, Reason: "is required"}
	}
	var s string
	if raw[0] != '"' || json.Unmarshal(raw, &s) != nil {
		return "", &timed.InvalidConfigError{Field: field, Value: string(raw), Reason: "must be a string"}
	}
	return s, nil
}
