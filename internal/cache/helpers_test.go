package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/javi11/plansync/internal/session"
	"github.com/javi11/plansync/internal/transport"
)

// memStore is an in-memory store.Store used by the cache tests.
type memStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}

func signedInSession(userID string) *session.StaticSession {
	sess := session.NewStaticSession()
	sess.SignIn(userID)
	return sess
}

// offlineAPI returns a transport client pointing nowhere. Tests that never
// refresh use it to satisfy the constructor.
func offlineAPI() *transport.Client {
	return transport.New(transport.Config{BaseURL: "http://127.0.0.1:0"})
}

// settle gives the background disk load a moment to finish so test mutations
// are not overwritten by it.
func settle() {
	time.Sleep(50 * time.Millisecond)
}
