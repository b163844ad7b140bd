// Package memory provides an in-memory implementation of the quota.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"sync"

	"github.com/fitforpdf/fitforpdf-web/pkg/quota"
)

// Store implements quota.Store using a mutex-guarded map
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates a new in-memory store
func New() *Store {
	return &Store{values: make(map[string]string)}
}

// Get implements quota.Store
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", quota.ErrNotFound
	}
	return v, nil
}

// Set implements quota.Store
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Clear implements quota.Store
func (s *Store) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}
