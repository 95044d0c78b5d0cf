package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`

func init() {
	Register("sqlite", func(cfg Config) (KV, error) {
		return OpenSQLite(cfg.Path, cfg.QuotaBytes)
	})
}

// SQLiteStore provides SQLite-backed key-value persistence.
type SQLiteStore struct {
	sqlDB *sql.DB
	quota int64
}

// OpenSQLite opens the database at path and ensures the kv table exists.
func OpenSQLite(path string, quota int64) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(createKVTable); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ensure kv table: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, quota: quota}, nil
}

// Close releases the underlying SQLite connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get loads the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	var value []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts the value stored under key.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	return s.Update(ctx, key, func([]byte, bool) ([]byte, error) {
		return value, nil
	})
}

// Remove deletes key.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Update runs fn inside an immediate transaction so concurrent writers,
// including other processes sharing the file, serialize on the key.
func (s *SQLiteStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := validateKey(key); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update %s: %w", key, err)
	}

	var cur []byte
	found := true
	if err := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&cur); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return fmt.Errorf("read %s: %w", key, err)
		}
		found = false
	}

	next, err := fn(cur, found)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if s.quota > 0 {
		var used int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(length(key) + length(value)), 0) FROM kv WHERE key <> ?`, key,
		).Scan(&used); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("measure usage: %w", err)
		}
		if err := checkQuota(s.quota, used, key, next); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if next == nil {
		next = []byte{}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		    value = excluded.value,
		    updated_at = excluded.updated_at`,
		key, next, time.Now().UTC().UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}
