package kv

import (
	"bytes"
	"context"
	"iter"
	"slices"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Store for tests and short-lived tools.
type Memory struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) live(e memoryEntry) bool {
	return e.expires.IsZero() || m.now().Before(e.expires)
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key.String()]
	if !ok || !m.live(e) {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key.String()] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.data, key.String())
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := string(prefix.prefixBytes())

	m.mu.RLock()
	var keys []string
	for k, e := range m.data {
		if len(k) >= len(p) && k[:len(p)] == p && m.live(e) {
			keys = append(keys, k)
		}
	}
	entries := make([]Entry, 0, len(keys))
	slices.Sort(keys)
	for _, k := range keys {
		entries = append(entries, Entry{Key: decodeKey([]byte(k)), Value: bytes.Clone(m.data[k].value)})
	}
	m.mu.RUnlock()

	return func(yield func(Entry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *Memory) Close() error {
	return nil
}
