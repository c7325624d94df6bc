/*
scheduler.go - Periodic checkpoint scheduler

PURPOSE:
  Periodically saves the live value of every meter so a restart loses at
  most one interval of regeneration and spending.

DESIGN:
  - Rides on a timed.Scheduler, the same capability that drives meter
    regeneration, so tests can step it with timed.ManualScheduler
  - Each run gets its own timeout context
  - Failures are logged; the next run tries again

CONFIGURATION:
  - Interval: How often to checkpoint (default: 30 seconds)
  - Zero or negative interval disables the scheduler

USAGE:
  scheduler := NewCheckpointScheduler(svc, 30*time.Second, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()
  scheduler.RunNow(ctx) // final checkpoint on shutdown

SEE ALSO:
  - handlers.go: Checkpoint endpoint (manual trigger)
  - meter/service.go: Service.Checkpoint
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/regen-engine/timed"
)

// DefaultCheckpointInterval is used when no interval is configured.
const DefaultCheckpointInterval = 30 * time.Second

// Checkpointer saves every live meter value.
type Checkpointer interface {
	Checkpoint(ctx context.Context) (int, error)
}

// CheckpointScheduler runs Checkpoint on a fixed interval.
type CheckpointScheduler struct {
	Target    Checkpointer
	Interval  time.Duration
	Timeout   time.Duration
	Scheduler timed.Scheduler

	logger zerolog.Logger
	handle timed.Handle
	mu     sync.Mutex
}

// NewCheckpointScheduler creates a scheduler driven by real tickers.
func NewCheckpointScheduler(target Checkpointer, interval time.Duration, logger zerolog.Logger) *CheckpointScheduler {
	return &CheckpointScheduler{
		Target:    target,
		Interval:  interval,
		Timeout:   10 * time.Second,
		Scheduler: timed.TickerScheduler{},
		logger:    logger.With().Str("component", "checkpoint-scheduler").Logger(),
	}
}

// Start begins periodic checkpoints. Calling Start twice is a no-op.
func (cs *CheckpointScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.Interval <= 0 {
		cs.logger.Info().Msg("disabled, not starting")
		return
	}
	if cs.handle != nil {
		return
	}

	cs.handle = cs.Scheduler.Every(cs.Interval, cs.run)
	cs.logger.Info().Dur("interval", cs.Interval).Msg("started")
}

// Stop halts periodic checkpoints and waits for a run in progress.
func (cs *CheckpointScheduler) Stop() {
	cs.mu.Lock()
	handle := cs.handle
	cs.handle = nil
	cs.mu.Unlock()

	if handle != nil {
		handle.Stop()
		cs.logger.Info().Msg("stopped")
	}
}

// RunNow checkpoints immediately, independent of the schedule.
func (cs *CheckpointScheduler) RunNow(ctx context.Context) (int, error) {
	start := time.Now()
	saved, err := cs.Target.Checkpoint(ctx)
	if err != nil {
		cs.logger.Error().Err(err).Int("saved", saved).Msg("checkpoint failed")
		return saved, err
	}
	cs.logger.Debug().Int("saved", saved).Dur("took", time.Since(start)).Msg("checkpoint complete")
	return saved, nil
}

func (cs *CheckpointScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), cs.Timeout)
	defer cancel()
	cs.RunNow(ctx)
}
