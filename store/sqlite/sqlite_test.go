package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/regen-engine/meter"
	"github.com/warp/regen-engine/store/sqlite"
	"github.com/warp/regen-engine/timed"
)

var (
	ctx = context.Background()
	t0  = time.Date(2025, 1, 1, 9, 30, 0, 123456789, time.UTC)
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleMeter(id string, createdAt time.Time) meter.Meter {
	return meter.Meter{
		ID:   id,
		Name: "quota-" + id,
		Config: timed.Config{
			Init: 10, Max: 10, Min: 0, Step: 2,
			Interval: 1500 * time.Millisecond,
			Type:     timed.Decreasing,
		},
		CreatedAt: createdAt,
	}
}

func TestSQLite_MeterRoundTrip(t *testing.T) {
	s := newStore(t)
	m := sampleMeter("m1", t0)

	require.NoError(t, s.SaveMeter(ctx, m))
	got, err := s.GetMeter(ctx, "m1")

	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestSQLite_SaveMeterReplaces(t *testing.T) {
	s := newStore(t)
	m := sampleMeter("m1", t0)
	require.NoError(t, s.SaveMeter(ctx, m))

	m.Name = "renamed"
	require.NoError(t, s.SaveMeter(ctx, m))

	got, err := s.GetMeter(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	list, err := s.ListMeters(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLite_GetMissingMeter(t *testing.T) {
	s := newStore(t)

	_, err := s.GetMeter(ctx, "nope")

	assert.True(t, meter.IsNotFound(err))
}

func TestSQLite_ListMetersOldestFirst(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveMeter(ctx, sampleMeter("late", t0.Add(time.Hour))))
	require.NoError(t, s.SaveMeter(ctx, sampleMeter("early", t0)))

	list, err := s.ListMeters(ctx)

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].ID)
	assert.Equal(t, "late", list[1].ID)
}

func TestSQLite_DeleteMeterKeepsLedger(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveMeter(ctx, sampleMeter("m1", t0)))
	require.NoError(t, s.SaveCheckpoint(ctx, meter.Checkpoint{MeterID: "m1", Value: 4, TakenAt: t0}))
	require.NoError(t, s.AppendEntry(ctx, meter.Entry{ID: "e1", MeterID: "m1", Type: meter.EntrySpend, Amount: 1, Accepted: true, ValueAfter: 9, CreatedAt: t0}))

	require.NoError(t, s.DeleteMeter(ctx, "m1"))

	_, err := s.GetMeter(ctx, "m1")
	assert.True(t, meter.IsNotFound(err))
	cp, err := s.LoadCheckpoint(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, cp)
	entries, err := s.LoadEntries(ctx, "m1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.True(t, meter.IsNotFound(s.DeleteMeter(ctx, "m1")))
}

func TestSQLite_EntriesNewestFirst(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AppendEntry(ctx, meter.Entry{
			ID:         string(rune('a' + i)),
			MeterID:    "m1",
			Type:       meter.EntryRefund,
			Amount:     int64(i),
			Accepted:   i%2 == 0,
			ValueAfter: int64(10 - i),
			CreatedAt:  t0.Add(time.Duration(i) * time.Millisecond),
		}))
	}
	// Same timestamp as the last one: arrival order breaks the tie.
	require.NoError(t, s.AppendEntry(ctx, meter.Entry{ID: "z", MeterID: "m1", Type: meter.EntrySpend, CreatedAt: t0.Add(3 * time.Millisecond)}))

	all, err := s.LoadEntries(ctx, "m1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "z", all[0].ID)
	assert.Equal(t, "d", all[1].ID)
	assert.Equal(t, "a", all[4].ID)
	assert.True(t, all[4].Accepted)
	assert.False(t, all[3].Accepted)
	assert.Equal(t, meter.EntryRefund, all[1].Type)
	assert.Equal(t, t0, all[4].CreatedAt)

	two, err := s.LoadEntries(ctx, "m1", 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	none, err := s.LoadEntries(ctx, "other", 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSQLite_DuplicateIdempotencyKey(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.AppendEntry(ctx, meter.Entry{ID: "e1", MeterID: "m1", IdempotencyKey: "k", CreatedAt: t0}))

	err := s.AppendEntry(ctx, meter.Entry{ID: "e2", MeterID: "m1", IdempotencyKey: "k", CreatedAt: t0})
	assert.ErrorIs(t, err, meter.ErrDuplicateIdempotencyKey)

	// Keyless entries are stored as NULL and never collide.
	require.NoError(t, s.AppendEntry(ctx, meter.Entry{ID: "e3", MeterID: "m1", CreatedAt: t0}))
	require.NoError(t, s.AppendEntry(ctx, meter.Entry{ID: "e4", MeterID: "m1", CreatedAt: t0}))

	exists, err := s.KeyExists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.KeyExists(ctx, "other")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLite_CheckpointUpsert(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveMeter(ctx, sampleMeter("m1", t0)))

	cp, err := s.LoadCheckpoint(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, s.SaveCheckpoint(ctx, meter.Checkpoint{MeterID: "m1", Value: 3, TakenAt: t0}))
	require.NoError(t, s.SaveCheckpoint(ctx, meter.Checkpoint{MeterID: "m1", Value: 8, TakenAt: t0.Add(time.Second)}))

	cp, err = s.LoadCheckpoint(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, meter.Checkpoint{MeterID: "m1", Value: 8, TakenAt: t0.Add(time.Second)}, *cp)
}

func TestSQLite_CheckpointRequiresMeter(t *testing.T) {
	s := newStore(t)

	err := s.SaveCheckpoint(ctx, meter.Checkpoint{MeterID: "ghost", Value: 1, TakenAt: t0})

	assert.Error(t, err)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regen.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveMeter(ctx, sampleMeter("m1", t0)))
	require.NoError(t, s.SaveCheckpoint(ctx, meter.Checkpoint{MeterID: "m1", Value: 6, TakenAt: t0}))
	require.NoError(t, s.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	list, err := reopened.ListMeters(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	cp, err := reopened.LoadCheckpoint(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(6), cp.Value)
}

func TestSQLite_URIWithQuery(t *testing.T) {
	// GIVEN: a file: URI that already carries options
	path := filepath.Join(t.TempDir(), "uri.db")

	s, err := sqlite.New("file:" + path + "?mode=rwc&cache=private")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// THEN: the store works and foreign keys are still enforced
	require.NoError(t, s.SaveMeter(ctx, sampleMeter("m1", t0)))
	assert.NoError(t, s.SaveCheckpoint(ctx, meter.Checkpoint{MeterID: "m1", Value: 3, TakenAt: t0}))
	assert.Error(t, s.SaveCheckpoint(ctx, meter.Checkpoint{MeterID: "ghost", Value: 1, TakenAt: t0}))
}
