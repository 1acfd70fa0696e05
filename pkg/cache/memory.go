package cache

import (
	"strings"
	"sync"
)

// memoryStore is the in-process fallback used while Redis is unreachable.
// Same TTL semantics as the Redis path; expired entries are dropped lazily
// on read.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]*Entry)}
}

func (m *memoryStore) get(key string) (*Entry, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if entry.IsExpired() {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return entry, true
}

func (m *memoryStore) set(key string, entry *Entry) {
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
}

func (m *memoryStore) deleteByPrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *memoryStore) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
