// Package store persists the guard strike counter in SQLite so rejections
// survive process restarts. The counter only moves up until the hidden
// absolution resets it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"conclave/internal/logging"
)

// StrikeCounterName is the fixed key the guard rejection counter lives under.
const StrikeCounterName = "guard_rejections"

// StrikeStore is a durable named-counter store backed by SQLite.
type StrikeStore struct {
	db *sql.DB
	mu sync.Mutex
}

// Open initializes the SQLite database at the given path, creating parent
// directories and the schema as needed.
func Open(path string) (*StrikeStore, error) {
	log := logging.Get(logging.CategoryStore)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &StrikeStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("strike store opened at %s", path)
	return s, nil
}

func (s *StrikeStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS counters (
			name  TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("failed to create counters table: %w", err)
	}
	return nil
}

// Get returns the current value of the named counter (0 if absent).
func (s *StrikeStore) Get(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value int
	err := s.db.QueryRow("SELECT value FROM counters WHERE name = ?", name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	return value, nil
}

// Increment bumps the named counter by one and returns the new value.
// The write is committed before returning so a crash cannot lose a strike.
func (s *StrikeStore) Increment(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}

	var value int
	if err := s.db.QueryRow("SELECT value FROM counters WHERE name = ?", name).Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to read counter %s after increment: %w", name, err)
	}
	logging.Get(logging.CategoryStore).Info("counter %s incremented to %d", name, value)
	return value, nil
}

// Reset zeroes the named counter. This is the out-of-band absolution path.
func (s *StrikeStore) Reset(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM counters WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to reset counter %s: %w", name, err)
	}
	logging.Get(logging.CategoryStore).Info("counter %s reset", name)
	return nil
}

// Strikes returns the guard rejection count.
func (s *StrikeStore) Strikes() (int, error) {
	return s.Get(StrikeCounterName)
}

// AddStrike records one guard rejection and returns the new count.
func (s *StrikeStore) AddStrike() (int, error) {
	return s.Increment(StrikeCounterName)
}

// ResetStrikes zeroes the guard rejection count.
func (s *StrikeStore) ResetStrikes() error {
	return s.Reset(StrikeCounterName)
}

// Close closes the underlying database.
func (s *StrikeStore) Close() error {
	return s.db.Close()
}
