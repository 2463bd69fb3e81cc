package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore implements Store over an in-process map. Suitable for tests
// and single-process deployments; state does not survive a restart.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memEntry
	lists map[string][][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*memEntry),
		lists: make(map[string][][]byte),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[key]
	if !ok || entry.expired(time.Now()) {
		delete(m.items, key)
		return nil, ErrNotFound
	}

	val := make([]byte, len(entry.value))
	copy(val, entry.value)
	return val, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = m.newEntry(value, ttl)
	return nil
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.items[key]; ok && !entry.expired(time.Now()) {
		return false, nil
	}

	m.items[key] = m.newEntry(value, ttl)
	return true, nil
}

func (m *MemoryStore) Incr(_ context.Context, key string, by int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if entry, ok := m.items[key]; ok && !entry.expired(time.Now()) {
		current, _ = strconv.ParseInt(string(entry.value), 10, 64)
	}
	current += by

	existing := m.items[key]
	ttl := time.Duration(0)
	if existing != nil && !existing.expiresAt.IsZero() {
		ttl = time.Until(existing.expiresAt)
	}
	m.items[key] = m.newEntry([]byte(strconv.FormatInt(current, 10)), ttl)

	return current, nil
}

func (m *MemoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[key]
	if !ok || entry.expired(time.Now()) {
		return ErrNotFound
	}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	} else {
		entry.expiresAt = time.Time{}
	}
	return nil
}

func (m *MemoryStore) LPush(_ context.Context, list string, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	val := make([]byte, len(v))
	copy(val, v)
	m.lists[list] = append([][]byte{val}, m.lists[list]...)
	return nil
}

func (m *MemoryStore) RPop(_ context.Context, list string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.lists[list]
	if len(items) == 0 {
		return nil, ErrNotFound
	}

	last := items[len(items)-1]
	m.lists[list] = items[:len(items)-1]
	return last, nil
}

func (m *MemoryStore) LLen(_ context.Context, list string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return int64(len(m.lists[list])), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) newEntry(value []byte, ttl time.Duration) *memEntry {
	val := make([]byte, len(value))
	copy(val, value)

	entry := &memEntry{value: val}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	return entry
}

var _ Store = (*MemoryStore)(nil)
