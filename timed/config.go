package timed

import "time"

// Direction is the bound regeneration drives toward.
type Direction string

const (
	// Increasing regenerates toward Max ("recharge" meters).
	Increasing Direction = "inc"
	// Decreasing regenerates toward Min ("decay" meters).
	Decreasing Direction = "dec"
)

// ParseDirection accepts "inc"/"increasing" and "dec"/"decreasing".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "inc", "increasing":
		return Increasing, nil
	case "dec", "decreasing":
		return Decreasing, nil
	default:
		return "", invalid("type", s, `must be "inc" or "dec"`)
	}
}

func (d Direction) String() string {
	if d == Decreasing {
		return "decreasing"
	}
	return "increasing"
}

// Config describes a timed number. Interval is the time between regeneration
// ticks; Step is the amount each tick moves the value.
type Config struct {
	Init     int64
	Max      int64
	Min      int64
	Step     int64
	Interval time.Duration
	Type     Direction
}

// Validate checks every construction rule and returns the first violation as
// an *InvalidConfigError. It also normalizes Type to its short form.
func (c *Config) Validate() error {
	if c.Max <= 0 {
		return invalid("max", c.Max, "must be greater than 0")
	}
	if c.Min < 0 {
		return invalid("min", c.Min, "must not be negative")
	}
	if c.Min >= c.Max {
		return invalid("min", c.Min, "must be less than max")
	}

	span := c.Max - c.Min
	if c.Step <= 0 {
		return invalid("step", c.Step, "must be greater than 0")
	}
	if c.Step > span {
		return invalid("step", c.Step, "must not exceed max - min")
	}
	if span%c.Step != 0 {
		return invalid("step", c.Step, "must evenly divide max - min")
	}

	if c.Interval < time.Millisecond {
		return invalid("interval", c.Interval, "must be at least 1ms")
	}

	dir, err := ParseDirection(string(c.Type))
	if err != nil {
		return err
	}
	c.Type = dir

	if c.Init < c.Min || c.Init > c.Max {
		return invalid("init", c.Init, "must lie within [min, max]")
	}
	return nil
}
