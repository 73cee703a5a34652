// Package store persists the bot's scheduling state: two boolean flags and
// the last-sent timestamp.
//
// Backends: SQLite for a single-host deployment, PostgreSQL for a managed
// database, and an in-memory store for tests.
package store

import (
	"sync"
	"time"
)

// Flag names.
const (
	FlagWelcome = "welcome_sent"
	FlagFirst   = "first_suggestion_sent"

	keyLastSent = "last_sent_at"
)

// Store reads and writes the scheduling flags.
type Store interface {
	Flag(name string) (bool, error)
	SetFlag(name string, value bool) error
	// LastSent returns the last send time; ok is false when nothing was
	// ever sent.
	LastSent() (t time.Time, ok bool, err error)
	SetLastSent(t time.Time) error
	Close() error
}

// Opts holds configuration options for persistent stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for persistent stores.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore keeps the flags in process memory. Used in tests and
// dry runs.
type InMemoryStore struct {
	mu       sync.Mutex
	flags    map[string]bool
	lastSent time.Time
	hasLast  bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{flags: make(map[string]bool)}
}

func (s *InMemoryStore) Flag(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[name], nil
}

func (s *InMemoryStore) SetFlag(name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[name] = value
	return nil
}

func (s *InMemoryStore) LastSent() (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent, s.hasLast, nil
}

func (s *InMemoryStore) SetLastSent(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSent = t
	s.hasLast = true
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
