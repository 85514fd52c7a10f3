package cache

import (
	"context"
	"errors"
	"path"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryEntries = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store bounded by an LRU. Least recently used entries are
// evicted once the size limit is reached.
type MemoryStore struct {
	mu      sync.Mutex
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs a memory store holding at most size entries.
func NewMemoryStore(size int, opts ...MemoryOption) (*MemoryStore, error) {
	if size <= 0 {
		size = defaultMemoryEntries
	}
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}
	store := &MemoryStore{entries: entries, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// IncrementWithTTL increments a counter, starting a new window when the previous one expired.
func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errors.New("cache: memory store not initialised")
	}
	if window <= 0 {
		window = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries.Get(key)
	if !ok || entry.expired(now) {
		entry = memoryEntry{value: []byte("1"), expiresAt: now.Add(window)}
		s.entries.Add(key, entry)
		return 1, window, nil
	}

	current, _ := strconv.ParseInt(string(entry.value), 10, 64)
	current++
	entry.value = []byte(strconv.FormatInt(current, 10))
	s.entries.Add(key, entry)
	return current, entry.expiresAt.Sub(now), nil
}

// Set stores a copy of value. A non-positive ttl never expires.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return errors.New("cache: memory store not initialised")
	}
	entry := memoryEntry{value: append([]byte(nil), value...)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries.Add(key, entry)
	return nil
}

// Get returns the value for key, dropping it when expired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, errors.New("cache: memory store not initialised")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if entry.expired(s.now()) {
		s.entries.Remove(key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Delete removes keys from the store.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	if s == nil {
		return errors.New("cache: memory store not initialised")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.entries.Remove(key)
	}
	return nil
}

// DeletePattern removes every key matching pattern.
func (s *MemoryStore) DeletePattern(_ context.Context, pattern string) (int64, error) {
	if s == nil {
		return 0, errors.New("cache: memory store not initialised")
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for _, key := range s.entries.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			s.entries.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// Count reports live entries matching pattern.
func (s *MemoryStore) Count(_ context.Context, pattern string) (int64, error) {
	if s == nil {
		return 0, errors.New("cache: memory store not initialised")
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var count int64
	for _, key := range s.entries.Keys() {
		entry, ok := s.entries.Peek(key)
		if !ok || entry.expired(now) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			count++
		}
	}
	return count, nil
}

// SweepExpired removes every expired entry.
func (s *MemoryStore) SweepExpired(_ context.Context) (int64, error) {
	if s == nil {
		return 0, errors.New("cache: memory store not initialised")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for _, key := range s.entries.Keys() {
		if entry, ok := s.entries.Peek(key); ok && entry.expired(now) {
			s.entries.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	if s == nil {
		return 0
	}
	return s.entries.Len()
}
