package fetcher

import (
	"time"
)

// mockCache implements a simple in-memory cache for testing
type mockCache struct {
	cache map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{cache: make(map[string][]byte)}
}

func (m *mockCache) Get(key string) ([]byte, error) {
	if val, ok := m.cache[key]; ok {
		return val, nil
	}
	return nil, &mockError{message: "cache miss"}
}

func (m *mockCache) Set(key string, value []byte, expiration time.Duration) error {
	m.cache[key] = value
	return nil
}

func (m *mockCache) Delete(key string) error {
	delete(m.cache, key)
	return nil
}

type mockError struct {
	message string
}

func (e *mockError) Error() string {
	return e.message
}
