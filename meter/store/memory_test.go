package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/regen-engine/meter"
	"github.com/warp/regen-engine/meter/store"
	"github.com/warp/regen-engine/timed"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMemory_MeterLifecycle(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	b := meter.Meter{ID: "b", Name: "second", Config: timed.Config{Max: 5, Step: 1}, CreatedAt: t0.Add(time.Second)}
	a := meter.Meter{ID: "a", Name: "first", Config: timed.Config{Max: 5, Step: 1}, CreatedAt: t0}
	require.NoError(t, m.SaveMeter(ctx, b))
	require.NoError(t, m.SaveMeter(ctx, a))

	got, err := m.GetMeter(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	list, err := m.ListMeters(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	require.NoError(t, m.SaveCheckpoint(ctx, meter.Checkpoint{MeterID: "a", Value: 3, TakenAt: t0}))
	require.NoError(t, m.DeleteMeter(ctx, "a"))

	_, err = m.GetMeter(ctx, "a")
	assert.True(t, meter.IsNotFound(err))
	cp, err := m.LoadCheckpoint(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint goes with the meter")

	assert.True(t, meter.IsNotFound(m.DeleteMeter(ctx, "a")))
}

func TestMemory_EntriesNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendEntry(ctx, meter.Entry{
			ID:        string(rune('a' + i)),
			MeterID:   "m1",
			Amount:    int64(i),
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := m.LoadEntries(ctx, "m1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, int64(4), all[0].Amount)
	assert.Equal(t, int64(0), all[4].Amount)

	two, err := m.LoadEntries(ctx, "m1", 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, int64(3), two[1].Amount)

	none, err := m.LoadEntries(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.AppendEntry(ctx, meter.Entry{ID: "first", MeterID: "m1", CreatedAt: t0}))
	require.NoError(t, m.AppendEntry(ctx, meter.Entry{ID: "second", MeterID: "m1", CreatedAt: t0}))

	got, err := m.LoadEntries(ctx, "m1", 0)
	require.NoError(t, err)
	assert.Equal(t, "second", got[0].ID)
	assert.Equal(t, "first", got[1].ID)
}

func TestMemory_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.AppendEntry(ctx, meter.Entry{ID: "1", MeterID: "m1", IdempotencyKey: "k"}))
	err := m.AppendEntry(ctx, meter.Entry{ID: "2", MeterID: "m2", IdempotencyKey: "k"})
	assert.ErrorIs(t, err, meter.ErrDuplicateIdempotencyKey)

	// Empty keys never collide.
	require.NoError(t, m.AppendEntry(ctx, meter.Entry{ID: "3", MeterID: "m1"}))
	require.NoError(t, m.AppendEntry(ctx, meter.Entry{ID: "4", MeterID: "m1"}))

	exists, err := m.KeyExists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = m.KeyExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemory_CheckpointUpsert(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	cp, err := m.LoadCheckpoint(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, m.SaveCheckpoint(ctx, meter.Checkpoint{MeterID: "m1", Value: 4, TakenAt: t0}))
	require.NoError(t, m.SaveCheckpoint(ctx, meter.Checkpoint{MeterID: "m1", Value: 7, TakenAt: t0.Add(time.Minute)}))

	cp, err = m.LoadCheckpoint(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(7), cp.Value)
	assert.Equal(t, t0.Add(time.Minute), cp.TakenAt)
}
