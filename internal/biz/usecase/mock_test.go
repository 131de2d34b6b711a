package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

// Mock implementations

type mockEntry struct {
	value   string
	expires time.Time
}

type mockStore struct {
	mu      sync.Mutex
	now     time.Time
	entries map[string]mockEntry
	err     error
}

func newMockStore() *mockStore {
	return &mockStore{now: time.Unix(1700000000, 0), entries: make(map[string]mockEntry)}
}

func (m *mockStore) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *mockStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	e, ok := m.entries[key]
	if !ok || (!e.expires.IsZero() && !m.now.Before(e.expires)) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *mockStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	e := mockEntry{value: value}
	if ttl > 0 {
		e.expires = m.now.Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *mockStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	if err != nil || ok {
		return false, err
	}
	return true, m.Put(ctx, key, value, ttl)
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *mockStore) Close() error {
	return nil
}

type mockDirectorySource struct {
	platform    domain.Platform
	credential  string
	directories map[domain.DirectoryKind]*domain.Directory
	fetches     int
	err         error
}

func (m *mockDirectorySource) Platform() domain.Platform {
	return m.platform
}

func (m *mockDirectorySource) Credential() string {
	return m.credential
}

func (m *mockDirectorySource) FetchDirectory(ctx context.Context, kind domain.DirectoryKind) (*domain.Directory, error) {
	m.fetches++
	if m.err != nil {
		return nil, m.err
	}
	if d, ok := m.directories[kind]; ok {
		return d, nil
	}
	return domain.NewDirectory(), nil
}

func newLarkDirectory() *mockDirectorySource {
	users := domain.NewDirectory()
	users.Add(domain.Member{ID: "ou_alice", Name: "Alice", Aliases: []string{"alice.w"}})
	users.Add(domain.Member{ID: "ou_bob", Name: "Bob"})
	channels := domain.NewDirectory()
	channels.Add(domain.Member{ID: "oc_general", Name: "general"})
	return &mockDirectorySource{
		platform:   domain.PlatformLark,
		credential: "lark-secret",
		directories: map[domain.DirectoryKind]*domain.Directory{
			domain.DirectoryUsers:    users,
			domain.DirectoryChannels: channels,
		},
	}
}
