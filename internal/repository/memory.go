package repository

import (
	"context"
	"sort"
	"sync"

	"gymtrack/internal/domain"
)

// MemoryStores is the last-resort tier: process-local and always available.
type MemoryStores struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

func NewMemoryStores() *MemoryStores {
	return &MemoryStores{stores: make(map[string]*MemoryStore)}
}

func (f *MemoryStores) Namespace(name string) domain.Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stores[name]
	if !ok {
		s = NewMemoryStore()
		f.stores[name] = s
	}
	return s
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), val...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.data[key] = append([]byte{}, value...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Iterate(ctx context.Context, fn func(key string, value []byte) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	values := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		keys = append(keys, k)
		values[k] = append([]byte(nil), v...)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}
