// Package storage provides the key-value engines and the metadata, link and
// secret stores built on top of them.
package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/methics/musap-ios-sub000/internal/domain/repository"
)

// MemoryStore is an in-process KeyValueStore backed by go-cache.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemoryStore creates an empty store whose entries never expire.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return bytes.Clone(v.([]byte)), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(key, bytes.Clone(value), cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(key)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, key string, fn func(current []byte, exists bool) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []byte
	v, exists := s.cache.Get(key)
	if exists {
		current = bytes.Clone(v.([]byte))
	}
	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	if next == nil {
		s.cache.Delete(key)
		return nil
	}
	s.cache.Set(key, bytes.Clone(next), cache.NoExpiration)
	return nil
}

// Keys lists every stored key.
func (s *MemoryStore) Keys() []string {
	items := s.cache.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	return keys
}

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}

var _ repository.KeyValueStore = (*MemoryStore)(nil)
