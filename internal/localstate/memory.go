package localstate

import (
	"context"
	"encoding/json"
	"sync"
)

// memoryStore is the in-memory backend, used in tests and for ephemeral
// sessions. Save stores a deep copy so later engine mutations cannot leak
// into the "persisted" snapshot.
type memoryStore struct {
	mu    sync.Mutex
	saved []byte
}

// NewMemoryStore returns a non-durable Store.
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (s *memoryStore) Load(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		return Empty(), nil
	}
	state := Empty()
	if err := json.Unmarshal(s.saved, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *memoryStore) Save(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.saved = data
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error { return nil }
