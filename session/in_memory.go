package session

import (
	"context"
	"sync"

	"github.com/chartmesh/chartmesh/core"
)

// InMemoryStore keeps histories in a map guarded by a RWMutex. Histories are
// deep-copied on both read and write so callers can never alias the stored
// slices.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]core.Message
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]core.Message)}
}

// LoadMessages implements Store.
func (s *InMemoryStore) LoadMessages(_ context.Context, sessionID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.CloneMessages(s.sessions[sessionID]), nil
}

// ReplaceMessages implements Store.
func (s *InMemoryStore) ReplaceMessages(_ context.Context, sessionID string, msgs []core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = core.CloneMessages(msgs)
	return nil
}

// Clear implements Store.
func (s *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
