package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fitfusion/fitfusion/internal/logger"
)

const fileExt = ".json"

func init() {
	Register("file", func(cfg Config) (KV, error) {
		return NewFileStore(cfg.Path, cfg.QuotaBytes)
	})
}

// FileStore implements KV using one file per key
type FileStore struct {
	baseDir string
	quota   int64
	mu      sync.Mutex
	log     *slog.Logger
}

// NewFileStore creates a new file-based store rooted at baseDir
func NewFileStore(baseDir string, quota int64) (*FileStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	log := logger.L().With("component", "storage", "driver", "file")

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	log.Debug("storage directory ensured", "path", baseDir)

	return &FileStore{
		baseDir: baseDir,
		quota:   quota,
		log:     log,
	}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.baseDir, key+fileExt)
}

// Get reads the file holding key
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(key)
}

// Set writes value to the file holding key
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(key, value)
}

// Remove deletes the file holding key
func (s *FileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	s.log.Debug("key removed", "key", key)
	return nil
}

// Update reads, transforms and rewrites key under the store lock
func (s *FileStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.readLocked(key)
	found := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	next, err := fn(cur, found)
	if err != nil {
		return err
	}
	return s.writeLocked(key, next)
}

// Close is a no-op
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) readLocked(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// writeLocked replaces the file atomically via a temp file and rename.
func (s *FileStore) writeLocked(key string, value []byte) error {
	used, err := s.usedLocked(key)
	if err != nil {
		return err
	}
	if err := checkQuota(s.quota, used, key, value); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.baseDir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", key, err)
	}

	s.log.Debug("key written", "key", key, "bytes", len(value))
	return nil
}

func (s *FileStore) usedLocked(except string) (int64, error) {
	if s.quota <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("reading storage directory: %w", err)
	}

	var total int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != fileExt || strings.HasPrefix(name, ".") {
			continue
		}
		key := strings.TrimSuffix(name, fileExt)
		if key == except {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += int64(len(key)) + info.Size()
	}
	return total, nil
}
