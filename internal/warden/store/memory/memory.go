package memory

import (
	"context"
	"sync"
)

// Store keeps the access state document in memory. It is intended for tests
// and dev environments; nothing survives a restart.
type Store struct {
	mu  sync.RWMutex
	doc []byte
}

func New() *Store {
	return &Store{}
}

func (s *Store) GetDoc(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, nil
	}
	out := make([]byte, len(s.doc))
	copy(out, s.doc)
	return out, nil
}

func (s *Store) PutDoc(_ context.Context, doc []byte) error {
	cp := make([]byte, len(doc))
	copy(cp, doc)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = cp
	return nil
}
