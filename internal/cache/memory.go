package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	tags      []string
	expiresAt time.Time
}

// Memory is a map-backed Cache for tests and single-process development.
// Expired entries are dropped lazily on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	tagIdx  map[string]map[string]struct{} // tag -> keys
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		tagIdx:  make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// SetClock overrides the time source for TTL tests.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(e.expiresAt) {
		m.removeLocked(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(key)
	m.entries[key] = memoryEntry{value: value, tags: tags, expiresAt: m.now().Add(ttl)}
	for _, tag := range tags {
		keys, ok := m.tagIdx[tag]
		if !ok {
			keys = make(map[string]struct{})
			m.tagIdx[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

func (m *Memory) InvalidateKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key)
	return nil
}

func (m *Memory) InvalidateByTag(_ context.Context, tagPattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for tag, keys := range m.tagIdx {
		matched, err := path.Match(tagPattern, tag)
		if err != nil {
			return err
		}
		if !matched {
			continue
		}
		for key := range keys {
			m.removeLocked(key)
		}
	}
	return nil
}

func (m *Memory) removeLocked(key string) {
	e, ok := m.entries[key]
	if !ok {
		return
	}
	delete(m.entries, key)
	for _, tag := range e.tags {
		delete(m.tagIdx[tag], key)
		if len(m.tagIdx[tag]) == 0 {
			delete(m.tagIdx, tag)
		}
	}
}
