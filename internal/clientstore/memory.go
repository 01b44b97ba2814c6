package clientstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

// MemoryStore keeps records in a map. Used in tests and by the SDK when no
// database path is configured; nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[model.ClientIdentity]model.ClientRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[model.ClientIdentity]model.ClientRecord)}
}

func (m *MemoryStore) Get(_ context.Context, id model.ClientIdentity) (model.ClientRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return model.ClientRecord{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *MemoryStore) Put(_ context.Context, rec model.ClientRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Identity] = rec.Clone()
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, id model.ClientIdentity, now time.Time) (model.ClientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		rec = model.NewClientRecord(id, now)
	}
	rec.Requests++
	rec.LastSeen = now.UTC()
	m.records[id] = rec
	return rec.Clone(), nil
}

func (m *MemoryStore) UpdateLevel(_ context.Context, id model.ClientIdentity, level, preAdmin model.TrustLevel, now time.Time) (model.ClientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		rec = model.NewClientRecord(id, now)
	}
	rec.Level = level
	rec.PreAdminLevel = preAdmin
	m.records[id] = rec
	return rec.Clone(), nil
}

func (m *MemoryStore) RecordOutcome(_ context.Context, id model.ClientIdentity, allowed bool, at time.Time) (model.ClientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return model.ClientRecord{}, ErrNotFound
	}
	if allowed {
		rec.Successes++
	} else {
		rec.Failures++
	}
	rec.LastSeen = at.UTC()
	m.records[id] = rec
	return rec.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]model.ClientRecord, error) {
	m.mu.Lock()
	out := make([]model.ClientRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
