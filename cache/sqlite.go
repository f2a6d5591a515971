package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new private in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	inMemory := filename == ""
	if inMemory {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	if inMemory {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			version TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			version TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (version, key)
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			name TEXT PRIMARY KEY,
			value TEXT
		)`,
	}
	if !inMemory {
		statements = append(statements, "PRAGMA journal_mode=WAL")
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("init sqlite cache: %w", err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Replace(version string, entries []CacheEntry) (err error) {
	if err := CheckVersion(version); err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec("INSERT OR IGNORE INTO stores (version, created_at) VALUES (?, ?)", version, time.Now().Unix()); err != nil {
		return err
	}
	if _, err = tx.Exec("DELETE FROM entries WHERE version = ?", version); err != nil {
		return err
	}
	for _, e := range entries {
		_, err = tx.Exec("INSERT OR REPLACE INTO entries (version, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
			version, e.Key, e.StoredAt.Unix(), e.Bytes)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s SQLiteCache) Get(version, key string) (CacheEntry, bool, error) {
	var storedAt int64
	entry := CacheEntry{Key: key}
	err := s.db.QueryRow("SELECT stored_at, bytes FROM entries WHERE version = ? AND key = ?", version, key).
		Scan(&storedAt, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	entry.StoredAt = time.Unix(storedAt, 0)
	return entry, true, nil
}

func (s SQLiteCache) Keys(version string, cb func(string)) error {
	keys, err := s.column("SELECT key FROM entries WHERE version = ? ORDER BY key", version)
	if err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (s SQLiteCache) Versions() ([]string, error) {
	return s.column("SELECT version FROM stores ORDER BY version")
}

func (s SQLiteCache) Delete(version string) (err error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.Exec("DELETE FROM entries WHERE version = ?", version); err != nil {
		return err
	}
	if _, err = tx.Exec("DELETE FROM stores WHERE version = ?", version); err != nil {
		return err
	}
	if _, err = tx.Exec("DELETE FROM meta WHERE name = 'active' AND value = ?", version); err != nil {
		return err
	}
	return tx.Commit()
}

func (s SQLiteCache) SetActive(version string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	var one int
	err := s.db.QueryRow("SELECT 1 FROM stores WHERE version = ?", version).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	if err != nil {
		return err
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO meta (name, value) VALUES ('active', ?)", version)
	return err
}

func (s SQLiteCache) Active() (string, error) {
	var version string
	err := s.db.QueryRow("SELECT value FROM meta WHERE name = 'active'").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return version, err
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}

// column collects a single text column before returning,
// so callers may query the db again while handling the result.
func (s SQLiteCache) column(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
