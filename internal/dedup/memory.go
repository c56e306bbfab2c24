package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local reservation store. It backs the failover
// path when the shared store is unreachable and the tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	orderID   string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Reserve(_ context.Context, hash, orderID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if e, ok := m.entries[hash]; ok && e.expiresAt.After(now) {
		return false, nil
	}
	m.entries[hash] = memoryEntry{orderID: orderID, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStore) Lookup(_ context.Context, hash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[hash]
	if !ok || !e.expiresAt.After(time.Now().UTC()) {
		return "", nil
	}
	return e.orderID, nil
}

func (m *MemoryStore) Release(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, hash)
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for hash, e := range m.entries {
		if !e.expiresAt.After(now) {
			delete(m.entries, hash)
			deleted++
		}
	}
	return deleted, nil
}
