package secrets

import (
	"context"
	"sync"
)

// MemoryManager is an in-process Manager for tests and single-node
// deployments without a cloud secret store.
type MemoryManager struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{secrets: make(map[string][]byte)}
}

func (m *MemoryManager) ReadSecret(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.secrets[name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *MemoryManager) WriteSecret(_ context.Context, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.secrets[name] = stored
	return nil
}

func (m *MemoryManager) DeleteSecret(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[name]; !ok {
		return ErrSecretNotFound
	}
	delete(m.secrets, name)
	return nil
}
