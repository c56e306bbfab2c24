package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local sliding-window store. It backs the failover
// path when the shared store is unreachable and the tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	blocks  map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]time.Time),
		blocks:  make(map[string]time.Time),
	}
}

func bucketKey(key, scope string) string {
	return key + "|" + scope
}

func (m *MemoryStore) CountAndAppend(_ context.Context, key, scope string, now time.Time, window time.Duration) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := bucketKey(key, scope)
	cutoff := now.Add(-window)

	kept := m.entries[bucket][:0]
	for _, at := range m.entries[bucket] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)
	m.entries[bucket] = kept

	return len(kept), kept[0], nil
}

func (m *MemoryStore) ActiveBlock(_ context.Context, key, scope string, now time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := bucketKey(key, scope)
	until, ok := m.blocks[bucket]
	if !ok {
		return time.Time{}, false, nil
	}
	if !until.After(now) {
		delete(m.blocks, bucket)
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (m *MemoryStore) CreateBlock(_ context.Context, key, scope string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks[bucketKey(key, scope)] = until
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	var deleted int64

	for bucket, attempts := range m.entries {
		kept := attempts[:0]
		for _, at := range attempts {
			if at.After(cutoff) {
				kept = append(kept, at)
			} else {
				deleted++
			}
		}
		if len(kept) == 0 {
			delete(m.entries, bucket)
		} else {
			m.entries[bucket] = kept
		}
	}

	for bucket, until := range m.blocks {
		if !until.After(now) {
			delete(m.blocks, bucket)
			deleted++
		}
	}

	return deleted, nil
}
