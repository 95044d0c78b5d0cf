package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

var (
	// ErrNotFound indicates the requested key holds no value
	ErrNotFound = errors.New("not found")

	// ErrCorrupt indicates a stored value could not be decoded
	ErrCorrupt = errors.New("corrupt data")

	// ErrQuotaExceeded indicates a write would grow the store past its byte quota
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrInvalidKey indicates a key outside the allowed character set
	ErrInvalidKey = errors.New("invalid key")
)

// DefaultQuotaBytes mirrors the usual 5 MiB browser local storage allowance.
const DefaultQuotaBytes int64 = 5 * 1024 * 1024

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// UpdateFunc receives the current value of a key (found reports whether one
// exists) and returns the value to store in its place.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// KV defines a flat key-value store holding opaque byte values.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Update performs a read-modify-write of key that no other writer
	// on the same store can interleave with.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Close releases any resources held by the store.
	Close() error
}

// Config selects and configures a storage driver.
type Config struct {
	Driver     string
	Path       string
	QuotaBytes int64
}

// Factory opens a store from configuration
type Factory func(cfg Config) (KV, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register adds a new storage driver
func Register(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// Drivers returns the registered driver names in sorted order.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates a store from configuration
func Open(cfg Config) (KV, error) {
	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
	return factory(cfg)
}

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// checkQuota reports ErrQuotaExceeded when storing value under key would push
// the total past quota. used is the current total excluding key's own entry.
func checkQuota(quota, used int64, key string, value []byte) error {
	if quota <= 0 {
		return nil
	}
	need := used + int64(len(key)) + int64(len(value))
	if need > quota {
		return fmt.Errorf("%w: need %d bytes, quota is %d", ErrQuotaExceeded, need, quota)
	}
	return nil
}
