package data

import (
	"context"
	"sync"
	"time"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
)

// sweepEvery bounds how many writes pass between expiry sweeps
const sweepEvery = 256

type memoryEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

// memoryStore is an in-process store. Expired keys read as missing and are
// swept periodically on write.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
	writes  int
}

// NewMemoryStore creates an in-process store. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) repo.Store {
	if now == nil {
		now = time.Now
	}
	return &memoryStore{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	return e.value, ok, nil
}

func (s *memoryStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value, ttl)
	return nil
}

func (s *memoryStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}

// lookup must be called with mu held
func (s *memoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// put must be called with mu held
func (s *memoryStore) put(key, value string, ttl time.Duration) {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[key] = e

	s.writes++
	if s.writes%sweepEvery == 0 {
		now := s.now()
		for k, v := range s.entries {
			if !v.expires.IsZero() && !now.Before(v.expires) {
				delete(s.entries, k)
			}
		}
	}
}
