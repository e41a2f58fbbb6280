package testutil

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotency mirrors the Redis idempotency store without expiry.
type MemoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
	Err  error
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{keys: make(map[string]string)}
}

func (m *MemoryIdempotency) Reserve(_ context.Context, key string, _ time.Duration) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, "", m.Err
	}
	if v, ok := m.keys[key]; ok {
		return false, v, nil
	}
	m.keys[key] = "pending"
	return true, "", nil
}

func (m *MemoryIdempotency) Complete(_ context.Context, key, orderID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = orderID
	return nil
}

func (m *MemoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *MemoryIdempotency) Value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[key]
	return v, ok
}
