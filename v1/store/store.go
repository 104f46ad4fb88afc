// Package store abstracts the external storage used to persist stock
// snapshots across process restarts. Durability policy belongs to the backing
// collaborator; the engine only writes snapshots after mutations and reads
// them back during warmup.
package store

import (
	"context"
	"sync"
)

// Store persists values by key. T is typically ledger.Snapshot keyed by
// "sku@location".
type Store[T any] interface {
	// Get retrieves the value for a key. The boolean return indicates
	// whether the key was found.
	Get(ctx context.Context, key string) (T, bool, error)
	// Set stores the value for a key.
	Set(ctx context.Context, key string, value T) error
	// Keys returns the list of keys available in the store. It is used for
	// warmup.
	Keys(ctx context.Context) ([]string, error)
}

// InMemoryStore is a Store implementation backed by a map, mainly for tests
// and single-process deployments.
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewInMemoryStore returns a new InMemoryStore.
func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{items: make(map[string]T)}
}

// Get implements Store.Get.
func (s *InMemoryStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false, nil
	}
	return v, true, nil
}

// Set implements Store.Set.
func (s *InMemoryStore[T]) Set(ctx context.Context, key string, value T) error {
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
	return nil
}

// Keys implements Store.Keys.
func (s *InMemoryStore[T]) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	return keys, nil
}
