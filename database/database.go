package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // Import the SQLite3 driver
)

// ErrNotFound is returned when a lookup by exact key matches nothing.
var ErrNotFound = errors.New("not found")

// Registry is the persisted store: dedup history, queue, worker state and failures.
type Registry struct {
	db *sql.DB
}

// InitDB opens the database at dbPath and makes sure every table exists.
// ":memory:" gives a throwaway database, used by tests.
func InitDB(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		// Ensure the directory for the database file exists.
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has one writer; a single connection keeps read-modify-write statements
	// serialised and keeps ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Println("Successfully connected to the database at", dbPath)
	return db, nil
}

// NewRegistry wraps an initialised database.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Open is InitDB followed by NewRegistry.
func Open(dbPath string) (*Registry, error) {
	db, err := InitDB(dbPath)
	if err != nil {
		return nil, err
	}
	return NewRegistry(db), nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func createTables(db *sql.DB) error {
	tables := []struct {
		name  string
		query string
	}{
		{"upload_records", `
    CREATE TABLE IF NOT EXISTS upload_records (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        token TEXT NOT NULL UNIQUE,
        fingerprint TEXT NOT NULL,
        part INTEGER NOT NULL DEFAULT 0,
        parts INTEGER NOT NULL DEFAULT 1,
        title TEXT NOT NULL DEFAULT '',
        name TEXT NOT NULL,
        channel_id TEXT NOT NULL,
        message_id TEXT NOT NULL,
        size INTEGER NOT NULL DEFAULT 0,
        created_at INTEGER NOT NULL,
        UNIQUE (fingerprint, part)
    );`},
		{"queue", `
    CREATE TABLE IF NOT EXISTS queue (
        fingerprint TEXT PRIMARY KEY,
        payload TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'pending',
        enqueued_at INTEGER NOT NULL
    );`},
		{"worker_state", `
    CREATE TABLE IF NOT EXISTS worker_state (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        lease_owner TEXT NOT NULL DEFAULT '',
        lease_expires_at INTEGER NOT NULL DEFAULT 0,
        last_fingerprint TEXT NOT NULL DEFAULT '',
        daily_post_count INTEGER NOT NULL DEFAULT 0,
        last_reset_date TEXT NOT NULL DEFAULT ''
    );`},
		{"failed_downloads", `
    CREATE TABLE IF NOT EXISTS failed_downloads (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        fingerprint TEXT NOT NULL UNIQUE,
        title TEXT NOT NULL,
        descriptor TEXT NOT NULL DEFAULT '',
        reason TEXT NOT NULL,
        failed_at INTEGER NOT NULL
    );`},
	}

	for _, t := range tables {
		if _, err := db.Exec(t.query); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.name, err)
		}
	}

	// Registries created before split tracking lack these columns; the error for an existing column is expected.
	for _, col := range []string{
		`ALTER TABLE upload_records ADD COLUMN parts INTEGER NOT NULL DEFAULT 1`,
		`ALTER TABLE upload_records ADD COLUMN title TEXT NOT NULL DEFAULT ''`,
	} {
		if _, err := db.Exec(col); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("failed to migrate upload_records: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_records_title ON upload_records(title);",
		"CREATE INDEX IF NOT EXISTS idx_queue_pending ON queue(status, enqueued_at);",
	}
	for _, q := range indexes {
		if _, err := db.Exec(q); err != nil {
			log.Printf("Warning: failed to create index: %v", err)
		}
	}

	// The singleton row always exists so every state update is a plain UPDATE.
	if _, err := db.Exec(`INSERT OR IGNORE INTO worker_state (id) VALUES (1)`); err != nil {
		return fmt.Errorf("failed to seed worker_state: %w", err)
	}
	return nil
}
