// Package config stores the small set of recognised configuration keys
// the core consumes (spec.md §6): configured_addr, e2ee_enabled,
// show_emails, backup_time. Grounded on the teacher's internal/settings
// key/value Store (Get/Set over a single table, typed accessor methods
// layered on top), narrowed to the closed key set this specification
// names instead of the teacher's open-ended UI preference keys.
package config

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/logging"
)

// Recognised configuration keys.
const (
	KeyConfiguredAddr = "configured_addr"
	KeyE2EEEnabled    = "e2ee_enabled"
	KeyShowEmails     = "show_emails"
	KeyBackupTime     = "backup_time"
)

// ShowEmails gates which deaddrop content is visible.
type ShowEmails int

const (
	ShowEmailsOff ShowEmails = iota
	ShowEmailsAccepted
	ShowEmailsAll
)

// Store provides configuration persistence.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new configuration store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, log: logging.WithComponent("config-store")}
}

// Get retrieves a raw configuration value by key.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config key %s: %w", key, err)
	}
	return value, nil
}

// Set stores a raw configuration value by key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config key %s: %w", key, err)
	}
	return nil
}

// ConfiguredAddr returns the account's own address, or "" if unconfigured.
func (s *Store) ConfiguredAddr() (string, error) {
	return s.Get(KeyConfiguredAddr)
}

// IsConfigured reports whether the account has been configured, the
// precondition import-backup checks before proceeding (§4.7).
func (s *Store) IsConfigured() (bool, error) {
	addr, err := s.ConfiguredAddr()
	if err != nil {
		return false, err
	}
	return addr != "", nil
}

// E2EEEnabled reports the global encryption preference; defaults to
// true when unset, per spec.md §6.
func (s *Store) E2EEEnabled() (bool, error) {
	v, err := s.Get(KeyE2EEEnabled)
	if err != nil {
		return true, err
	}
	if v == "" {
		return true, nil
	}
	return v == "1", nil
}

// SetE2EEEnabled sets the global encryption preference.
func (s *Store) SetE2EEEnabled(enabled bool) error {
	if enabled {
		return s.Set(KeyE2EEEnabled, "1")
	}
	return s.Set(KeyE2EEEnabled, "0")
}

// ShowEmails returns the deaddrop content visibility gate; defaults to
// ShowEmailsOff when unset.
func (s *Store) ShowEmails() (ShowEmails, error) {
	v, err := s.Get(KeyShowEmails)
	if err != nil {
		return ShowEmailsOff, err
	}
	if v == "" {
		return ShowEmailsOff, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return ShowEmailsOff, nil
	}
	return ShowEmails(n), nil
}

// BackupTime returns the unix timestamp of the last successful export,
// or 0 if none has run.
func (s *Store) BackupTime() (int64, error) {
	v, err := s.Get(KeyBackupTime)
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// SetBackupTime records the instant of a successful export.
func (s *Store) SetBackupTime(unixSeconds int64) error {
	return s.Set(KeyBackupTime, strconv.FormatInt(unixSeconds, 10))
}
