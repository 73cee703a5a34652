// Package store provides storage backends for Cityping.
//
// This file implements the SQLite-backed state store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists the bot state in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file
// path). The parent directory is created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewSQLiteStore: migrations applied")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) get(name string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM bot_state WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read state %s: %w", name, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) set(name, value string) error {
	_, err := s.db.Exec(`INSERT INTO bot_state (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`, name, value)
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) Flag(name string) (bool, error) {
	value, ok, err := s.get(name)
	if err != nil {
		return false, err
	}
	return ok && value == "1", nil
}

func (s *SQLiteStore) SetFlag(name string, value bool) error {
	v := "0"
	if value {
		v = "1"
	}
	return s.set(name, v)
}

func (s *SQLiteStore) LastSent() (time.Time, bool, error) {
	value, ok, err := s.get(keyLastSent)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse last_sent_at: %w", err)
	}
	return t, true, nil
}

func (s *SQLiteStore) SetLastSent(t time.Time) error {
	return s.set(keyLastSent, t.Format(time.RFC3339))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
