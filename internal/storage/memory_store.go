package storage

import (
	"context"
	"sync"
)

func init() {
	Register("memory", func(cfg Config) (KV, error) {
		return NewMemoryStore(cfg.QuotaBytes), nil
	})
}

// MemoryStore is a goroutine-safe in-memory KV. Values are copied on the way
// in and out so callers never share backing arrays with the store.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
	quota  int64
}

// NewMemoryStore creates an empty store. A quota of zero or less disables
// the quota check.
func NewMemoryStore(quota int64) *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		quota:  quota,
	}
}

// Get returns a copy of the value under key
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value under key
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(key, value)
}

// Remove deletes key
func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Update runs fn while holding the store lock
func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, found := s.values[key]
	next, err := fn(append([]byte(nil), cur...), found)
	if err != nil {
		return err
	}
	return s.setLocked(key, next)
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) setLocked(key string, value []byte) error {
	if err := checkQuota(s.quota, s.usedLocked(key), key, value); err != nil {
		return err
	}
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) usedLocked(except string) int64 {
	var total int64
	for k, v := range s.values {
		if k == except {
			continue
		}
		total += int64(len(k) + len(v))
	}
	return total
}
