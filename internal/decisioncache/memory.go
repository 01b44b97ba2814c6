package decisioncache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

const shardCount = 16

type entry struct {
	decision  model.Decision
	expiresAt time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[model.ClientIdentity]entry
}

// Memory is an in-process cache sharded by identity hash.
type Memory struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewMemory returns an empty cache. A nil now uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	m := &Memory{now: now}
	for i := range m.shards {
		m.shards[i] = &shard{items: make(map[model.ClientIdentity]entry)}
	}
	return m
}

func (m *Memory) shard(id model.ClientIdentity) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return m.shards[h.Sum32()%shardCount]
}

func (m *Memory) Get(_ context.Context, id model.ClientIdentity) (model.Decision, bool, error) {
	s := m.shard(id)
	s.mu.RLock()
	e, ok := s.items[id]
	s.mu.RUnlock()
	if !ok || !m.now().Before(e.expiresAt) {
		return model.Decision{}, false, nil
	}
	return e.decision, true, nil
}

func (m *Memory) Put(_ context.Context, id model.ClientIdentity, d model.Decision, ttl time.Duration) error {
	if !d.Cacheable || ttl <= 0 {
		return nil
	}
	now := m.now()
	d = stamp(d, now, ttl)
	s := m.shard(id)
	s.mu.Lock()
	s.items[id] = entry{decision: d, expiresAt: *d.ExpiresAt}
	s.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(_ context.Context, id model.ClientIdentity) error {
	s := m.shard(id)
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

func (m *Memory) Purge(_ context.Context) error {
	for _, s := range m.shards {
		s.mu.Lock()
		s.items = make(map[model.ClientIdentity]entry)
		s.mu.Unlock()
	}
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep(now time.Time) int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for id, e := range s.items {
			if !now.Before(e.expiresAt) {
				delete(s.items, id)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
