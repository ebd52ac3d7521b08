package securestore

import "sync"

// MemoryStore is an in-memory Store. Secrets do not survive process restart,
// so it is suitable for tests and short-lived tooling only.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

// SetSecret implements Store.
func (s *MemoryStore) SetSecret(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = value
	return nil
}

// GetSecret implements Store.
func (s *MemoryStore) GetSecret(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// DeleteSecret implements Store.
func (s *MemoryStore) DeleteSecret(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, key)
	return nil
}
