package localcache

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteCache is a Cache persisted in a single-table SQLite database, the
// usual on-device storage for mobile targets. The driver is pure Go, so no
// cgo toolchain is needed for cross-compilation.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (or creates) the database at dsn and ensures the
// key-value table exists.
func NewSQLiteCache(dsn string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS kv_cache (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *SQLiteCache) Close() error { return c.db.Close() }

// Set implements Cache.
func (c *SQLiteCache) Set(key, value string) error {
	_, err := c.db.Exec(
		`INSERT INTO kv_cache (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Get implements Cache.
func (c *SQLiteCache) Get(key string) (string, error) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM kv_cache WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, nil
}

// Delete implements Cache.
func (c *SQLiteCache) Delete(key string) error {
	if _, err := c.db.Exec(`DELETE FROM kv_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}
