/*
service.go - Live meters, ledger writes and checkpoints

PURPOSE:
  The Service owns one running timed.Number per meter. It is the only
  place that mutates a meter, so it can make "check idempotency key, move
  the value, append the entry" a single atomic step.

SPEND / REFUND FLOW:
  1. Reject negative amounts (ErrInvalidAmount)
  2. Reject a reused idempotency key before touching the value
  3. Adjust the live Number; a bound violation is a rejection, not an error
  4. Append the Entry (accepted or not)
  5. If the append fails after an accepted move, undo the move

RESTART:
  Checkpoint saves every live value. Restore rebuilds live Numbers from the
  stored meters, starting each one at its checkpoint (clamped to the
  configured bounds) or at Config.Init when no checkpoint exists.

EXAMPLE:
  svc := meter.NewService(store, meter.WithLogger(log))
  defer svc.Close()
  st, err := svc.Create(ctx, "api-quota", cfg)
  res, err := svc.Spend(ctx, st.Meter.ID, 3, "req-42")
  if errors.Is(err, meter.ErrDuplicateIdempotencyKey) {
      // retry of a request we already handled
  }

SEE ALSO:
  - store.go:          Store interface
  - timed/number.go:   The regenerating counter behind each meter
  - api/scheduler.go:  Periodic checkpoints
*/
package meter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/regen-engine/datetime"
	"github.com/warp/regen-engine/timed"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store     Store
	scheduler timed.Scheduler
	clock     datetime.Clock
	logger    zerolog.Logger

	// opMu serializes every mutation so the key check, the move and the
	// ledger append cannot interleave with another caller's.
	opMu sync.Mutex

	mu     sync.RWMutex
	live   map[string]*liveMeter
	closed bool
}

type liveMeter struct {
	meter  Meter
	number *timed.Number
}

type Option func(*Service)

// WithScheduler drives every Number with s instead of real tickers.
func WithScheduler(s timed.Scheduler) Option {
	return func(svc *Service) { svc.scheduler = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

func WithClock(c datetime.Clock) Option {
	return func(svc *Service) { svc.clock = c }
}

func NewService(store Store, opts ...Option) *Service {
	svc := &Service{
		store:     store,
		scheduler: timed.TickerScheduler{},
		clock:     datetime.SystemClock{},
		logger:    zerolog.Nop(),
		live:      make(map[string]*liveMeter),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Create validates cfg, starts the Number and persists the meter. Nothing is
// left running if persisting fails.
func (s *Service) Create(ctx context.Context, name string, cfg timed.Config) (Status, error) {
	if name == "" {
		return Status{}, ErrInvalidName
	}
	if err := cfg.Validate(); err != nil {
		return Status{}, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return Status{}, ErrServiceClosed
	}

	m := Meter{
		ID:        uuid.NewString(),
		Name:      name,
		Config:    cfg,
		CreatedAt: s.clock.Now().UTC(),
	}

	n, err := s.start(m, cfg)
	if err != nil {
		return Status{}, err
	}
	if err := s.store.SaveMeter(ctx, m); err != nil {
		n.Close()
		return Status{}, fmt.Errorf("failed to save meter: %w", err)
	}

	if err := s.register(m, n); err != nil {
		// Close ran while the meter was being saved.
		if derr := s.store.DeleteMeter(ctx, m.ID); derr != nil {
			s.logger.Warn().Err(derr).Str("meter_id", m.ID).Msg("failed to remove meter created during close")
		}
		return Status{}, err
	}

	s.logger.Info().Str("meter_id", m.ID).Str("name", name).Msg("meter created")
	return Status{Meter: m, Snapshot: n.Snapshot()}, nil
}

// Delete stops the meter and removes its definition and checkpoint.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	lm, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMeter(ctx, id); err != nil {
		return fmt.Errorf("failed to delete meter %s: %w", id, err)
	}

	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()

	lm.number.Close()
	s.logger.Info().Str("meter_id", id).Msg("meter deleted")
	return nil
}

// Restore starts a Number for every stored meter that is not already live
// and returns how many were started.
func (s *Service) Restore(ctx context.Context) (int, error) {
	meters, err := s.store.ListMeters(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list meters: %w", err)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return 0, ErrServiceClosed
	}

	restored := 0
	for _, m := range meters {
		if _, err := s.lookup(m.ID); err == nil {
			continue
		}

		cfg := m.Config
		cp, err := s.store.LoadCheckpoint(ctx, m.ID)
		if err != nil {
			return restored, fmt.Errorf("failed to load checkpoint for %s: %w", m.ID, err)
		}
		if cp != nil {
			cfg.Init = clamp(cp.Value, cfg.Min, cfg.Max)
		}

		n, err := s.start(m, cfg)
		if err != nil {
			// A stored definition that no longer validates is skipped so
			// one bad row cannot keep the rest offline.
			s.logger.Error().Err(err).Str("meter_id", m.ID).Msg("skipping meter with invalid config")
			continue
		}

		if err := s.register(m, n); err != nil {
			return restored, err
		}
		restored++
	}

	s.logger.Info().Int("restored", restored).Int("stored", len(meters)).Msg("meters restored")
	return restored, nil
}

// Close stops every live Number. It is safe to call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	live := s.live
	s.live = make(map[string]*liveMeter)
	s.mu.Unlock()

	for _, lm := range live {
		lm.number.Close()
	}
	s.logger.Debug().Int("meters", len(live)).Msg("meter service closed")
	return nil
}

// register makes n live unless Close has already run, in which case n is
// stopped and ErrServiceClosed returned.
func (s *Service) register(m Meter, n *timed.Number) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		n.Close()
		return ErrServiceClosed
	}
	s.live[m.ID] = &liveMeter{meter: m, number: n}
	s.mu.Unlock()
	return nil
}

func (s *Service) start(m Meter, cfg timed.Config) (*timed.Number, error) {
	return timed.New(cfg,
		timed.WithScheduler(s.scheduler),
		timed.WithLogger(s.logger.With().Str("meter_id", m.ID).Logger()),
	)
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) Get(id string) (Status, error) {
	lm, err := s.lookup(id)
	if err != nil {
		return Status{}, err
	}
	return Status{Meter: lm.meter, Snapshot: lm.number.Snapshot()}, nil
}

// List returns every live meter ordered by creation time.
func (s *Service) List() []Status {
	s.mu.RLock()
	result := make([]Status, 0, len(s.live))
	for _, lm := range s.live {
		result = append(result, Status{Meter: lm.meter, Snapshot: lm.number.Snapshot()})
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Meter, result[j].Meter
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return result
}

// Entries returns the meter's ledger, newest first.
func (s *Service) Entries(ctx context.Context, id string, limit int) ([]Entry, error) {
	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	entries, err := s.store.LoadEntries(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries for %s: %w", id, err)
	}
	return entries, nil
}

func (s *Service) lookup(id string) (*liveMeter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lm, ok := s.live[id]
	if !ok {
		return nil, &NotFoundError{MeterID: id}
	}
	return lm, nil
}

func (s *Service) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// =============================================================================
// MANUAL MOVES
// =============================================================================

// Spend decreases the meter by amount.
func (s *Service) Spend(ctx context.Context, id string, amount int64, key string) (Result, error) {
	return s.move(ctx, id, EntrySpend, amount, key)
}

// Refund increases the meter by amount.
func (s *Service) Refund(ctx context.Context, id string, amount int64, key string) (Result, error) {
	return s.move(ctx, id, EntryRefund, amount, key)
}

func (s *Service) move(ctx context.Context, id string, typ EntryType, amount int64, key string) (Result, error) {
	if amount < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	lm, err := s.lookup(id)
	if err != nil {
		return Result{}, err
	}

	if key != "" {
		exists, err := s.store.KeyExists(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if exists {
			return Result{}, &DuplicateKeyError{Key: key}
		}
	}

	delta := amount
	if typ == EntrySpend {
		delta = -amount
	}
	value, ok := lm.number.Adjust(delta)

	entry := Entry{
		ID:             uuid.NewString(),
		MeterID:        id,
		Type:           typ,
		Amount:         amount,
		Accepted:       ok,
		ValueAfter:     value,
		IdempotencyKey: key,
		CreatedAt:      s.clock.Now().UTC(),
	}

	if err := s.store.AppendEntry(ctx, entry); err != nil {
		if ok {
			s.compensate(lm, delta)
		}
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return Result{}, &DuplicateKeyError{Key: key}
		}
		return Result{}, fmt.Errorf("failed to record %s: %w", typ, err)
	}

	s.logger.Debug().
		Str("meter_id", id).
		Str("type", string(typ)).
		Int64("amount", amount).
		Bool("accepted", ok).
		Int64("value", value).
		Msg("meter moved")

	return Result{Accepted: ok, Value: value, Entry: entry}, nil
}

// compensate reverses an accepted move whose entry could not be written.
func (s *Service) compensate(lm *liveMeter, delta int64) {
	if _, ok := lm.number.Adjust(-delta); !ok {
		// A tick landed in between and the reverse move no longer fits.
		s.logger.Error().
			Str("meter_id", lm.meter.ID).
			Int64("delta", -delta).
			Msg("failed to compensate unrecorded move")
	}
}

// =============================================================================
// CHECKPOINTS
// =============================================================================

// Checkpoint saves the current value of every live meter and returns how
// many were saved. It keeps going after a failed save and reports all
// failures together.
func (s *Service) Checkpoint(ctx context.Context) (int, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	live := make([]*liveMeter, 0, len(s.live))
	for _, lm := range s.live {
		live = append(live, lm)
	}
	s.mu.RUnlock()

	now := s.clock.Now().UTC()
	var errs []error
	saved := 0
	for _, lm := range live {
		cp := Checkpoint{MeterID: lm.meter.ID, Value: lm.number.Value(), TakenAt: now}
		if err := s.store.SaveCheckpoint(ctx, cp); err != nil {
			errs = append(errs, fmt.Errorf("meter %s: %w", lm.meter.ID, err))
			continue
		}
		saved++
	}

	if len(errs) > 0 {
		return saved, fmt.Errorf("checkpoint incomplete: %w", errors.Join(errs...))
	}
	return saved, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
