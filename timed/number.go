/*
Package timed provides a bounded counter that regenerates on a fixed cadence.

PURPOSE:
  A Number models a budget with passive regeneration: an API quota that
  refills over time, or a decaying heat meter that cools down. Callers spend
  or refund capacity explicitly and get an accept/reject answer; a recurring
  tick moves the value one step toward the bound chosen by its Direction.

DIRECTION:
  Increasing: ticks push toward Max. Consumers usually Decrease.
  Decreasing: ticks push toward Min. Consumers usually Increase.
  Both manual operations are always available regardless of direction.

INVARIANTS:
  - Min <= Value() <= Max after construction and after every operation.
  - Manual moves that would cross a bound are rejected, never clamped.
  - Ticks saturate at the bound and are no-ops once there.
  - Ticks and manual calls share one mutex, so neither is ever lost.

LIFECYCLE:
  n, err := timed.New(cfg)
  if err != nil {
      return err
  }
  defer n.Close()

  Construction validates first and schedules only on success, so a failed
  New never leaves a timer behind. Close stops regeneration; manual calls
  keep working afterwards.

SEE ALSO:
  - config.go:    Config and validation rules
  - scheduler.go: Scheduler, TickerScheduler, ManualScheduler
*/
package timed

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Number is a bounded, self-regenerating counter. It is safe for concurrent use.
type Number struct {
	mu     sync.Mutex
	value  int64
	closed bool

	min, max, step int64
	interval       time.Duration
	direction      Direction

	handle Handle
	logger zerolog.Logger
}

// Snapshot is a consistent view of a Number.
type Snapshot struct {
	Value     int64
	Min       int64
	Max       int64
	Step      int64
	Interval  time.Duration
	Direction Direction
	Closed    bool
}

// Option configures a Number.
type Option func(*options)

type options struct {
	scheduler Scheduler
	logger    zerolog.Logger
}

// WithScheduler replaces the default TickerScheduler.
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New validates cfg and starts regeneration.
func New(cfg Config, opts ...Option) (*Number, error) {
	o := options{scheduler: TickerScheduler{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Number{
		value:     cfg.Init,
		min:       cfg.Min,
		max:       cfg.Max,
		step:      cfg.Step,
		interval:  cfg.Interval,
		direction: cfg.Type,
		logger:    o.logger,
	}

	n.handle = o.scheduler.Every(cfg.Interval, n.tick)

	n.logger.Debug().
		Int64("init", cfg.Init).
		Int64("min", cfg.Min).
		Int64("max", cfg.Max).
		Int64("step", cfg.Step).
		Dur("interval", cfg.Interval).
		Str("direction", cfg.Type.String()).
		Msg("timed number started")

	return n, nil
}

// Value returns the current level.
func (n *Number) Value() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

// Increase adds amount unless the result would exceed Max. A negative amount
// is rejected.
func (n *Number) Increase(amount int64) bool {
	if amount < 0 {
		return false
	}
	_, ok := n.Adjust(amount)
	return ok
}

// Decrease subtracts amount unless the result would fall below Min. A
// negative amount is rejected.
func (n *Number) Decrease(amount int64) bool {
	if amount < 0 {
		return false
	}
	_, ok := n.Adjust(-amount)
	return ok
}

// Adjust applies a signed delta if the result stays within [Min, Max] and
// returns the value after the call together with whether it was applied.
func (n *Number) Adjust(delta int64) (int64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// Compare against the remaining headroom so huge deltas cannot overflow.
	if delta >= 0 {
		if delta > n.max-n.value {
			return n.value, false
		}
	} else if delta < n.min-n.value {
		return n.value, false
	}

	n.value += delta
	return n.value, true
}

func (n *Number) tick() {
	n.mu.Lock()
	before := n.value
	switch n.direction {
	case Increasing:
		if n.max-n.value <= n.step {
			n.value = n.max
		} else {
			n.value += n.step
		}
	case Decreasing:
		if n.value-n.min <= n.step {
			n.value = n.min
		} else {
			n.value -= n.step
		}
	}
	after := n.value
	n.mu.Unlock()

	if before != after {
		n.logger.Trace().Int64("from", before).Int64("to", after).Msg("regenerated")
	}
}

// Snapshot reads every field under one lock.
func (n *Number) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Snapshot{
		Value:     n.value,
		Min:       n.min,
		Max:       n.max,
		Step:      n.step,
		Interval:  n.interval,
		Direction: n.direction,
		Closed:    n.closed,
	}
}

// Close stops regeneration. It is safe to call more than once and must not
// be called from a scheduler callback.
func (n *Number) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	handle := n.handle
	n.mu.Unlock()

	// Stop waits for an in-flight tick, which needs the lock.
	handle.Stop()
	n.logger.Debug().Int64("value", n.Value()).Msg("timed number closed")
	return nil
}
