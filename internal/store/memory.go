package store

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore keeps task records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Set(ctx context.Context, taskID, field, value string) error {
	return m.SetFields(ctx, taskID, map[string]string{field: value})
}

func (m *MemoryStore) SetFields(_ context.Context, taskID string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[taskID]
	if !ok {
		rec = make(Record, len(fields))
		m.records[taskID] = rec
		m.order = append(m.order, taskID)
	}
	maps.Copy(rec, fields)
	return nil
}

func (m *MemoryStore) SetFieldsUnless(_ context.Context, taskID, guard string, blocked []string, fields map[string]string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[taskID]
	if !ok {
		return false, ErrNotFound
	}
	if slices.Contains(blocked, rec[guard]) {
		return false, nil
	}
	maps.Copy(rec, fields)
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, taskID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return maps.Clone(rec), nil
}

func (m *MemoryStore) Exists(_ context.Context, taskID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[taskID]
	return ok, nil
}

func (m *MemoryStore) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
