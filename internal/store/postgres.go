// Package store provides storage backends for Cityping.
//
// This file implements the PostgreSQL-backed state store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	DefaultMaxOpenConns    = 5
	DefaultMaxIdleConns    = 2
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists the bot state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres connection: %w", err)
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping Postgres database: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewPostgresStore: migrations applied")
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) get(name string) (string, bool, error) {
	var value string
	err := p.db.QueryRow(`SELECT value FROM bot_state WHERE name = $1`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read state %s: %w", name, err)
	}
	return value, true, nil
}

func (p *PostgresStore) set(name, value string) error {
	_, err := p.db.Exec(`INSERT INTO bot_state (name, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, name, value)
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", name, err)
	}
	return nil
}

func (p *PostgresStore) Flag(name string) (bool, error) {
	value, ok, err := p.get(name)
	if err != nil {
		return false, err
	}
	return ok && value == "1", nil
}

func (p *PostgresStore) SetFlag(name string, value bool) error {
	v := "0"
	if value {
		v = "1"
	}
	return p.set(name, v)
}

func (p *PostgresStore) LastSent() (time.Time, bool, error) {
	value, ok, err := p.get(keyLastSent)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse last_sent_at: %w", err)
	}
	return t, true, nil
}

func (p *PostgresStore) SetLastSent(t time.Time) error {
	return p.set(keyLastSent, t.Format(time.RFC3339))
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
