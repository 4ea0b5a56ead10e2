package storage

import (
	"bytes"
	"context"
	"sync"
)

// Memory keeps collections in process memory. Records are copied on the way
// in and out so callers cannot mutate stored bytes.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Record

	// FailSave, when set, is returned by SaveCollection. Tests use it to
	// simulate a backend write failure.
	FailSave error
	// FailLoad, when set, is returned by LoadCollection.
	FailLoad error
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]Record)}
}

func (m *Memory) LoadCollection(_ context.Context, name string) ([]Record, error) {
	if name == "" {
		return nil, ErrInvalidCollection
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailLoad != nil {
		return nil, m.FailLoad
	}
	return copyRecords(m.collections[name]), nil
}

func (m *Memory) SaveCollection(_ context.Context, name string, records []Record) error {
	if name == "" {
		return ErrInvalidCollection
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	m.collections[name] = copyRecords(records)
	return nil
}

func (m *Memory) DeleteCollections(_ context.Context, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		delete(m.collections, n)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func copyRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = bytes.Clone(r)
	}
	return out
}
