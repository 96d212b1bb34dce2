package counter

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It is meant for local
// development and tests; counters are not shared between processes.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*memEntry
}

type memEntry struct {
	value     int64
	expiresAt time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, entries: make(map[string]*memEntry)}
}

func (s *MemoryStore) Incr(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.liveLocked(key)
	if entry == nil {
		entry = &memEntry{}
		if ttl > 0 {
			entry.expiresAt = s.now().Add(ttl)
		}
		s.entries[key] = entry
	}
	entry.value += by
	return entry.value, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry := s.liveLocked(key); entry != nil {
		return entry.value, nil
	}
	return 0, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &memEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// liveLocked returns the entry for key, dropping it if expired.
func (s *MemoryStore) liveLocked(key string) *memEntry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return entry
}
