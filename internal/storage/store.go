// Package storage keeps the persisted query cache in a local SQLite file.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"gastos/internal/log"
)

// MemoryPath opens a process-private database that lives as long as the Store.
const MemoryPath = ":memory:"

// Store is a string key/value table. It satisfies cache.Durable.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *log.Logger
}

func dsnFor(path string) string {
	if path == MemoryPath {
		return "file:gastos-cache?mode=memory&cache=shared"
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := dsnFor(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithComponent(log.ComponentStorage).Info("Cache database ready", "path", path)
	return &Store{db: db, now: time.Now, logger: logger.WithComponent(log.ComponentStorage)}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set inserts or replaces key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// DeleteMatching removes every key containing pattern, or every key when
// pattern is empty, and returns the number of rows removed.
func (s *Store) DeleteMatching(ctx context.Context, pattern string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if pattern == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE instr(key, ?) > 0`, pattern)
	}
	if err != nil {
		return 0, fmt.Errorf("delete matching %q: %w", pattern, err)
	}
	n, _ := res.RowsAffected()
	s.logger.InfoContext(ctx, "Persisted cache entries removed", log.FieldOperation, log.OpInvalidate, log.FieldPattern, pattern, "removed", n)
	return n, nil
}

// PurgeOlderThan removes entries not written since cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Keys lists the stored keys with the given prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cache_entries WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
