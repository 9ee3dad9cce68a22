// Package storage provides the SQLite-backed key/value store that holds
// durable host state between runs. The persist package decides what goes in
// here and when; storage only knows about opaque blobs under string keys.
package storage

import (
	"log"
	"sync"
	"time"

	// SQLite driver - imported for side effects (registers the driver).
	// Using modernc.org/sqlite which is a pure-Go implementation that
	// doesn't require CGO, making cross-compilation and testing easier.
	"database/sql"

	_ "modernc.org/sqlite"

	apperrors "github.com/ibolton336/migrator-host/internal/errors"
)

// SQLiteStore is a key/value store over a single SQLite table. It supports
// concurrent access through internal locking.
type SQLiteStore struct {
	db *sql.DB      // Database connection handle.
	mu sync.RWMutex // Guards all database operations for thread safety.
}

// Open opens or creates a SQLite database at the given path and initializes
// the schema if the tables don't exist. The path should be a file path like
// "/path/to/migrator.db". Use ":memory:" for an in-memory database (useful
// for testing).
func Open(path string) (*SQLiteStore, error) {
	log.Printf("storage: opening database at %s", path)

	// busy_timeout handles concurrent access from a second host process
	// pointed at the same database file.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open database", err)
	}

	// Verify the connection is working.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping database", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("storage: database ready (schema version %d)", currentSchemaVersion)
	return store, nil
}

// Get returns the blob stored under key. The second return value reports
// whether the key existed; a missing key is not an error.
func (s *SQLiteStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRow("SELECT value FROM state_kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "get "+key, err)
	}
	return value, true, nil
}

// Put stores a blob under key, replacing any previous value.
func (s *SQLiteStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO state_kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "put "+key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is a no-op.
func (s *SQLiteStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM state_kv WHERE key = ?", key); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "delete "+key, err)
	}
	return nil
}

// Keys returns every stored key, sorted, mostly for diagnostics.
func (s *SQLiteStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT key FROM state_kv ORDER BY key")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "list keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "scan key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "iterate keys", err)
	}
	return keys, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	log.Printf("storage: closing database")
	return s.db.Close()
}
