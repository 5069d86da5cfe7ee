// Package memorydb is an in-memory persistence.KeyValueDB used by tests and
// by nodes that don't need durability across restarts (e.g. test-network
// harnesses), mirroring the teacher's keyvaluedb/memorydb package.
package memorydb

import (
	"bytes"
	"sort"
	"sync"

	"github.com/Galxe/gravity-sdk/persistence"
)

type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func New() (*MemoryDB, error) {
	return &MemoryDB{data: make(map[string][]byte)}, nil
}

func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemoryDB) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemoryDB) WriteBatch(fn func(b persistence.Batch) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &memBatch{db: m}
	return fn(b)
}

func (m *MemoryDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make(map[string][]byte, len(keys))
	for _, k := range keys {
		snapshot[k] = m.data[k]
	}
	m.mu.RUnlock()

	for _, k := range keys {
		if !fn([]byte(k), snapshot[k]) {
			break
		}
	}
	return nil
}

func (m *MemoryDB) Close() error { return nil }

// memBatch writes directly to the locked map; WriteBatch already holds m.mu.
type memBatch struct {
	db *MemoryDB
}

func (b *memBatch) Set(key, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	b.db.data[string(key)] = cp
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	delete(b.db.data, string(key))
	return nil
}
