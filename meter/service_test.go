package meter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/regen-engine/datetime"
	"github.com/warp/regen-engine/meter"
	"github.com/warp/regen-engine/meter/store"
	"github.com/warp/regen-engine/timed"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	ctx = context.Background()
	now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func quota() timed.Config {
	return timed.Config{Init: 10, Max: 10, Min: 0, Step: 1, Interval: time.Second, Type: timed.Increasing}
}

type fixture struct {
	svc   *meter.Service
	store *faultyStore
	sched *timed.ManualScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := &faultyStore{Memory: store.NewMemory()}
	sched := timed.NewManualScheduler()
	svc := meter.NewService(st,
		meter.WithScheduler(sched),
		meter.WithClock(datetime.FixedClock(now)),
	)
	t.Cleanup(func() { svc.Close() })
	return &fixture{svc: svc, store: st, sched: sched}
}

func (f *fixture) create(t *testing.T, cfg timed.Config) string {
	t.Helper()
	st, err := f.svc.Create(ctx, "quota", cfg)
	require.NoError(t, err)
	return st.Meter.ID
}

// faultyStore fails selected writes on demand.
type faultyStore struct {
	*store.Memory

	mu             sync.Mutex
	appendErr      error
	saveMeterErr   error
	checkpointErrs map[string]error

	// When set, SaveMeter closes saving and then waits for release.
	saving  chan struct{}
	release chan struct{}
}

func (s *faultyStore) AppendEntry(ctx context.Context, e meter.Entry) error {
	s.mu.Lock()
	err := s.appendErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.AppendEntry(ctx, e)
}

func (s *faultyStore) SaveMeter(ctx context.Context, m meter.Meter) error {
	if s.release != nil {
		close(s.saving)
		<-s.release
	}
	if s.saveMeterErr != nil {
		return s.saveMeterErr
	}
	return s.Memory.SaveMeter(ctx, m)
}

func (s *faultyStore) SaveCheckpoint(ctx context.Context, cp meter.Checkpoint) error {
	if err := s.checkpointErrs[cp.MeterID]; err != nil {
		return err
	}
	return s.Memory.SaveCheckpoint(ctx, cp)
}

// =============================================================================
// CREATE / GET / LIST / DELETE
// =============================================================================

func TestCreate_StartsAndPersistsMeter(t *testing.T) {
	f := newFixture(t)

	st, err := f.svc.Create(ctx, "api-quota", quota())

	require.NoError(t, err)
	assert.NotEmpty(t, st.Meter.ID)
	assert.Equal(t, "api-quota", st.Meter.Name)
	assert.Equal(t, now, st.Meter.CreatedAt)
	assert.Equal(t, int64(10), st.Snapshot.Value)
	assert.Equal(t, 1, f.sched.Len())

	stored, err := f.store.GetMeter(ctx, st.Meter.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Meter, stored)
}

func TestCreate_NormalizesDirection(t *testing.T) {
	f := newFixture(t)
	cfg := quota()
	cfg.Type = "decreasing"

	st, err := f.svc.Create(ctx, "heat", cfg)

	require.NoError(t, err)
	assert.Equal(t, timed.Decreasing, st.Meter.Config.Type)
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(ctx, "", quota())
	assert.ErrorIs(t, err, meter.ErrInvalidName)
	assert.True(t, meter.IsClientError(err))

	bad := quota()
	bad.Step = 3
	_, err = f.svc.Create(ctx, "bad", bad)
	assert.ErrorIs(t, err, timed.ErrInvalidConfig)
	assert.True(t, meter.IsClientError(err))

	assert.Equal(t, 0, f.sched.Len())
	assert.Empty(t, f.svc.List())
}

func TestCreate_FailedSaveLeavesNothingRunning(t *testing.T) {
	f := newFixture(t)
	f.store.saveMeterErr = errors.New("disk full")

	_, err := f.svc.Create(ctx, "quota", quota())

	require.Error(t, err)
	assert.Equal(t, 0, f.sched.Len(), "the number was stopped")
	assert.Empty(t, f.svc.List())
}

func TestGet_UnknownMeter(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get("missing")

	assert.True(t, meter.IsNotFound(err))
	var nf *meter.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.MeterID)
}

func TestList_ReflectsRegeneration(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, quota())
	_, err := f.svc.Spend(ctx, id, 4, "")
	require.NoError(t, err)

	f.sched.Advance(2 * time.Second)

	list := f.svc.List()
	require.Len(t, list, 1)
	assert.Equal(t, int64(8), list[0].Snapshot.Value)
}

func TestDelete_StopsAndForgetsMeter(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, quota())
	_, err := f.svc.Checkpoint(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, id))

	assert.Equal(t, 0, f.sched.Len())
	_, err = f.svc.Get(id)
	assert.True(t, meter.IsNotFound(err))
	cp, err := f.store.LoadCheckpoint(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, cp)

	assert.True(t, meter.IsNotFound(f.svc.Delete(ctx, id)))
}

// =============================================================================
// SPEND / REFUND
// =============================================================================

func TestSpend_AcceptedAndRejectedAreBothRecorded(t *testing.T) {
	// GIVEN: a full meter of 10
	f := newFixture(t)
	id := f.create(t, quota())

	// WHEN: spending 7, then 7 again
	first, err := f.svc.Spend(ctx, id, 7, "k1")
	require.NoError(t, err)
	second, err := f.svc.Spend(ctx, id, 7, "k2")
	require.NoError(t, err)

	// THEN: the first is accepted, the second rejected without error
	assert.True(t, first.Accepted)
	assert.Equal(t, int64(3), first.Value)
	assert.False(t, second.Accepted)
	assert.Equal(t, int64(3), second.Value)

	entries, err := f.svc.Entries(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.Entry, entries[0])
	assert.Equal(t, meter.EntrySpend, entries[1].Type)
	assert.True(t, entries[1].Accepted)
	assert.False(t, entries[0].Accepted)
}

func TestRefund_RespectsMax(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, quota())
	_, err := f.svc.Spend(ctx, id, 5, "")
	require.NoError(t, err)

	res, err := f.svc.Refund(ctx, id, 5, "")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(10), res.Value)
	assert.Equal(t, meter.EntryRefund, res.Entry.Type)

	res, err = f.svc.Refund(ctx, id, 1, "")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
}

func TestSpend_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, quota())

	_, err := f.svc.Spend(ctx, id, -1, "")

	assert.ErrorIs(t, err, meter.ErrInvalidAmount)
	assert.True(t, meter.IsClientError(err))
	entries, err := f.svc.Entries(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpend_ZeroIsAcceptedNoOp(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, quota())

	res, err := f.svc.Spend(ctx, id, 0, "")

	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(10), res.Value)
}

func TestSpend_UnknownMeter(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Spend(ctx, "missing", 1, "")

	assert.True(t, meter.IsNotFound(err))
}

func TestSpend_DuplicateKeyDoesNotMove(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, quota())
	_, err := f.svc.Spend(ctx, id, 2, "req-1")
	require.NoError(t, err)

	_, err = f.svc.Spend(ctx, id, 2, "req-1")

	assert.ErrorIs(t, err, meter.ErrDuplicateIdempotencyKey)
	assert.True(t, meter.IsConflict(err))
	st, err := f.svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(8), st.Snapshot.Value)
}

func TestSpend_FailedAppendIsCompensated(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, quota())
	f.store.appendErr = errors.New("database is locked")

	_, err := f.svc.Spend(ctx, id, 4, "req-1")

	require.Error(t, err)
	assert.False(t, meter.IsClientError(err))
	st, err := f.svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.Snapshot.Value)
}

func TestSpend_ConcurrentCallersStayConsistent(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed.Config{Init: 100, Max: 100, Min: 0, Step: 1, Interval: time.Hour, Type: timed.Increasing})

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := f.svc.Spend(ctx, id, 1, "")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	st, err := f.svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Snapshot.Value)

	entries, err := f.svc.Entries(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 200)
}

// =============================================================================
// CHECKPOINT / RESTORE
// =============================================================================

func TestCheckpointAndRestore(t *testing.T) {
	// GIVEN: a meter spent down to 6 and checkpointed
	f := newFixture(t)
	id := f.create(t, quota())
	_, err := f.svc.Spend(ctx, id, 4, "")
	require.NoError(t, err)

	saved, err := f.svc.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	// WHEN: a fresh service starts on the same store
	sched := timed.NewManualScheduler()
	restarted := meter.NewService(f.store, meter.WithScheduler(sched))
	t.Cleanup(func() { restarted.Close() })

	n, err := restarted.Restore(ctx)

	// THEN: the meter resumes at the checkpointed value and keeps regenerating
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	st, err := restarted.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(6), st.Snapshot.Value)

	sched.Tick()
	st, err = restarted.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.Snapshot.Value)

	again, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again, "live meters are not restarted")
}

func TestRestore_WithoutCheckpointUsesInit(t *testing.T) {
	f := newFixture(t)
	cfg := quota()
	cfg.Init = 3
	id := f.create(t, cfg)

	restarted := meter.NewService(f.store, meter.WithScheduler(timed.NewManualScheduler()))
	t.Cleanup(func() { restarted.Close() })
	_, err := restarted.Restore(ctx)
	require.NoError(t, err)

	st, err := restarted.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Snapshot.Value)
}

func TestRestore_ClampsCheckpoint(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, quota())
	require.NoError(t, f.store.SaveCheckpoint(ctx, meter.Checkpoint{MeterID: id, Value: 42, TakenAt: now}))

	restarted := meter.NewService(f.store, meter.WithScheduler(timed.NewManualScheduler()))
	t.Cleanup(func() { restarted.Close() })
	_, err := restarted.Restore(ctx)
	require.NoError(t, err)

	st, err := restarted.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.Snapshot.Value)
}

func TestCheckpoint_ReportsPartialFailure(t *testing.T) {
	f := newFixture(t)
	ok := f.create(t, quota())
	broken := f.create(t, quota())
	f.store.checkpointErrs = map[string]error{broken: errors.New("io error")}

	saved, err := f.svc.Checkpoint(ctx)

	require.Error(t, err)
	assert.Equal(t, 1, saved)
	cp, loadErr := f.store.LoadCheckpoint(ctx, ok)
	require.NoError(t, loadErr)
	require.NotNil(t, cp)
	assert.Equal(t, now, cp.TakenAt)
}

// =============================================================================
// CLOSE
// =============================================================================

func TestClose_StopsEverything(t *testing.T) {
	f := newFixture(t)
	f.create(t, quota())
	f.create(t, quota())
	require.Equal(t, 2, f.sched.Len())

	require.NoError(t, f.svc.Close())
	require.NoError(t, f.svc.Close())

	assert.Equal(t, 0, f.sched.Len())
	assert.Empty(t, f.svc.List())
	_, err := f.svc.Create(ctx, "late", quota())
	assert.ErrorIs(t, err, meter.ErrServiceClosed)
}

func TestClose_DuringCreateStopsTheNewMeter(t *testing.T) {
	// GIVEN: a Create blocked inside SaveMeter
	f := newFixture(t)
	f.store.saving = make(chan struct{})
	f.store.release = make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		_, err := f.svc.Create(ctx, "late", quota())
		errc <- err
	}()
	<-f.store.saving

	// WHEN: the service closes before the save returns
	require.NoError(t, f.svc.Close())
	close(f.store.release)

	// THEN: Create fails and leaves nothing running or stored
	assert.ErrorIs(t, <-errc, meter.ErrServiceClosed)
	assert.Equal(t, 0, f.sched.Len())
	assert.Empty(t, f.svc.List())
	stored, err := f.store.ListMeters(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}
