package cache

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"stockboard/internal/observ"
)

// SQLite is a durable Store. A broken database never fails a request: read
// errors are reported as misses and write errors are logged and dropped.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens (or creates) the cache database and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so the refresher can write while request handlers read.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value []byte
	var expiresAt int64
	err := s.db.QueryRow(
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		observ.Log("cache_sqlite_read_error", map[string]any{"key": key, "error": err.Error()})
		return nil, false
	}
	if time.Now().Unix() > expiresAt {
		return nil, false
	}
	return value, true
}

func (s *SQLite) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, time.Now().Add(ttl).Unix(),
	)
	if err != nil {
		observ.Log("cache_sqlite_write_error", map[string]any{"key": key, "error": err.Error()})
	}
}

func (s *SQLite) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		observ.Log("cache_sqlite_delete_error", map[string]any{"key": key, "error": err.Error()})
	}
}

// Cleanup removes expired rows. Run periodically; reads already ignore
// expired entries so this is purely space reclamation.
func (s *SQLite) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		observ.Log("cache_sqlite_cleanup_error", map[string]any{"error": err.Error()})
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		observ.Log("cache_sqlite_cleanup", map[string]any{"evicted": n})
	}
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
