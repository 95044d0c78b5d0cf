package offline

import (
	"net/http"
	"sync"
	"time"
)

// Entry is a stored response.
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Header = e.Header.Clone()
	c.Body = append([]byte(nil), e.Body...)
	return &c
}

// Cache is one named response store keyed by request URL. Concurrent puts
// to the same key are last-write-wins; each put replaces a whole entry.
type Cache struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*Entry
}

func newCache(name string) *Cache {
	return &Cache{name: name, entries: make(map[string]*Entry)}
}

// Name returns the cache name
func (c *Cache) Name() string {
	return c.name
}

// Match returns a copy of the entry stored under key
func (c *Cache) Match(key string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// Put stores a copy of e under key
func (c *Cache) Put(key string, e *Entry) {
	stored := e.clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now()
	}
	c.mu.Lock()
	c.entries[key] = stored
	c.mu.Unlock()
}

// Delete removes key and reports whether it was present
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Len returns the number of entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheStorage holds the named caches in creation order.
type CacheStorage struct {
	mu     sync.RWMutex
	order  []string
	caches map[string]*Cache
}

// NewCacheStorage creates an empty cache storage
func NewCacheStorage() *CacheStorage {
	return &CacheStorage{caches: make(map[string]*Cache)}
}

// Open returns the named cache, creating it if needed
func (s *CacheStorage) Open(name string) *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c
	}
	c := newCache(name)
	s.caches[name] = c
	s.order = append(s.order, name)
	return c
}

// Has reports whether the named cache exists
func (s *CacheStorage) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok
}

// Delete drops the named cache and every entry in it
func (s *CacheStorage) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false
	}
	delete(s.caches, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns cache names in creation order
func (s *CacheStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Match searches every cache in creation order and returns the first hit
func (s *CacheStorage) Match(key string) (*Entry, bool) {
	s.mu.RLock()
	caches := make([]*Cache, 0, len(s.order))
	for _, name := range s.order {
		caches = append(caches, s.caches[name])
	}
	s.mu.RUnlock()

	for _, c := range caches {
		if e, ok := c.Match(key); ok {
			return e, true
		}
	}
	return nil, false
}
