// Package store provides in-memory meter.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/regen-engine/meter"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	meters      map[string]meter.Meter
	entries     map[string][]meter.Entry
	checkpoints map[string]meter.Checkpoint
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		meters:      make(map[string]meter.Meter),
		entries:     make(map[string][]meter.Entry),
		checkpoints: make(map[string]meter.Checkpoint),
		idempotency: make(map[string]bool),
	}
}

func (m *Memory) SaveMeter(_ context.Context, mt meter.Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meters[mt.ID] = mt
	return nil
}

func (m *Memory) GetMeter(_ context.Context, id string) (meter.Meter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.meters[id]
	if !ok {
		return meter.Meter{}, &meter.NotFoundError{MeterID: id}
	}
	return mt, nil
}

func (m *Memory) ListMeters(_ context.Context) ([]meter.Meter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]meter.Meter, 0, len(m.meters))
	for _, mt := range m.meters {
		result = append(result, mt)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) DeleteMeter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.meters[id]; !ok {
		return &meter.NotFoundError{MeterID: id}
	}
	delete(m.meters, id)
	delete(m.checkpoints, id)
	return nil
}

// AppendEntry adds a single entry. Append-only.
func (m *Memory) AppendEntry(_ context.Context, e meter.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return meter.ErrDuplicateIdempotencyKey
	}

	entries := m.entries[e.MeterID]

	// Insert after every entry with the same or an earlier timestamp so
	// equal timestamps keep arrival order.
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].CreatedAt.After(e.CreatedAt)
	})
	entries = append(entries, meter.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.entries[e.MeterID] = entries

	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

// LoadEntries returns entries newest first.
func (m *Memory) LoadEntries(_ context.Context, meterID string, limit int) ([]meter.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.entries[meterID]
	n := len(entries)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]meter.Entry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, entries[i])
	}
	return result, nil
}

func (m *Memory) KeyExists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[key], nil
}

func (m *Memory) SaveCheckpoint(_ context.Context, cp meter.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.MeterID] = cp
	return nil
}

func (m *Memory) LoadCheckpoint(_ context.Context, meterID string) (*meter.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[meterID]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

var _ meter.Store = (*Memory)(nil)
