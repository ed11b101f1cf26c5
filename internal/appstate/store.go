// Package appstate holds process-local state several chat-engine
// components share under one lock: the smeared-timestamp clock (§4.3)
// and the single-slot ongoing-operation token (§4.7, §5). A thin
// key/value table backs anything that should survive a restart,
// grounded on the teacher's appstate.Store.
package appstate

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/logging"
)

// Store handles persistence of small process-state key/value pairs.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new app-state store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		log: logging.WithComponent("appstate"),
	}
}

// Get retrieves a value by key.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM app_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get app state key %s: %w", key, err)
	}
	return value, nil
}

// Set stores a value by key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO app_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set app state key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key from the store.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM app_state WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete app state key %s: %w", key, err)
	}
	return nil
}
