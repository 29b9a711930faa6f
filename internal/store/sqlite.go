package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	ErrQuota    = errors.New("quota exceeded")
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            owner TEXT NOT NULL,
            data BLOB NOT NULL,
            size INTEGER NOT NULL,
            compressed INTEGER NOT NULL,
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS record_tags (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            record_id TEXT NOT NULL,
            name TEXT NOT NULL,
            value TEXT NOT NULL,
            FOREIGN KEY(record_id) REFERENCES records(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS users (
            address TEXT PRIMARY KEY,
            username TEXT NOT NULL DEFAULT '',
            display_name TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL,
            last_login INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS read_state (
            address TEXT NOT NULL,
            thread_id TEXT NOT NULL,
            read_at INTEGER NOT NULL,
            PRIMARY KEY(address, thread_id)
        );`,
		`CREATE TABLE IF NOT EXISTS hidden_threads (
            address TEXT NOT NULL,
            box TEXT NOT NULL,
            thread_id TEXT NOT NULL,
            PRIMARY KEY(address, box, thread_id)
        );`,
		`CREATE TABLE IF NOT EXISTS usernames (
            username TEXT PRIMARY KEY,
            address TEXT NOT NULL UNIQUE,
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS contacts (
            id TEXT PRIMARY KEY,
            owner TEXT NOT NULL,
            name TEXT NOT NULL,
            address TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            UNIQUE(owner, address)
        );`,
		`CREATE TABLE IF NOT EXISTS notes (
            id TEXT PRIMARY KEY,
            owner TEXT NOT NULL,
            title TEXT NOT NULL,
            content TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS drive_files (
            id TEXT PRIMARY KEY,
            owner TEXT NOT NULL,
            file_name TEXT NOT NULL,
            record_id TEXT NOT NULL,
            size INTEGER NOT NULL,
            mime_type TEXT NOT NULL,
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS drive_shares (
            file_id TEXT NOT NULL,
            address TEXT NOT NULL,
            PRIMARY KEY(file_id, address),
            FOREIGN KEY(file_id) REFERENCES drive_files(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS notifications (
            address TEXT NOT NULL,
            id TEXT NOT NULL,
            payload BLOB NOT NULL,
            created_at INTEGER NOT NULL,
            PRIMARY KEY(address, id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_records_owner_created ON records(owner, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_record_tags_name_value ON record_tags(name, value, record_id);`,
		`CREATE INDEX IF NOT EXISTS idx_record_tags_record ON record_tags(record_id);`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner);`,
		`CREATE INDEX IF NOT EXISTS idx_notes_owner_updated ON notes(owner, updated_at);`,
		`CREATE INDEX IF NOT EXISTS idx_drive_files_owner_created ON drive_files(owner, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_drive_shares_address ON drive_shares(address);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, value := range values {
		args[i] = value
	}
	return args
}
