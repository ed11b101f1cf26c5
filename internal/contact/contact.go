// Package contact provides the minimal contact/peerstate view the chat
// engine reads. The contacts database and the Autocrypt peerstate table
// are external collaborators this specification explicitly does not
// respecify (spec.md §1); this package exposes only the fields
// internal/chat, internal/group, and internal/message actually consume,
// grounded on the teacher's identities-table shape (internal/database
// migrations.go, the "identities" table).
package contact

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/logging"
)

// Contact is a minimal read/write view of one contact row.
type Contact struct {
	ID                  int64
	Addr                string
	DisplayName         string
	IsSelf              bool
	HasPeerstate        bool
	PreferEncryptMutual bool
	Verified            bool
}

// NameOrAddr returns the display name when set, otherwise the address —
// the fallback spec.md §4.1 names for a newly created single chat's name.
func (c *Contact) NameOrAddr() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Addr
}

// Store persists and looks up contacts.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new contact store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, log: logging.WithComponent("contact-store")}
}

// Get returns a contact by id, or nil if it does not exist.
func (s *Store) Get(id int64) (*Contact, error) {
	row := s.db.QueryRow(`
		SELECT id, addr, display_name, is_self, has_peerstate, prefer_encrypt_mutual, verified
		FROM contacts WHERE id = ?`, id)
	return scanContact(row)
}

// GetByAddr returns a contact by address, or nil if none exists.
func (s *Store) GetByAddr(addr string) (*Contact, error) {
	row := s.db.QueryRow(`
		SELECT id, addr, display_name, is_self, has_peerstate, prefer_encrypt_mutual, verified
		FROM contacts WHERE addr = ?`, addr)
	return scanContact(row)
}

// CreateOrUpdate upserts a contact keyed on address, the same natural key
// spec.md §4.1 uses as a single-chat's stable group-id substitute.
func (s *Store) CreateOrUpdate(addr, displayName string) (*Contact, error) {
	_, err := s.db.Exec(`
		INSERT INTO contacts (addr, display_name) VALUES (?, ?)
		ON CONFLICT(addr) DO UPDATE SET display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END
	`, addr, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}
	return s.GetByAddr(addr)
}

// EnsureSelfContact upserts and marks addr as the account's own contact
// row, the self_contact_id every other component (Preparer, Dispatcher,
// Group Protocol, Location Engine) is constructed with.
func (s *Store) EnsureSelfContact(addr string) (*Contact, error) {
	_, err := s.db.Exec(`
		INSERT INTO contacts (addr, display_name, is_self) VALUES (?, '', 1)
		ON CONFLICT(addr) DO UPDATE SET is_self = 1
	`, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert self contact: %w", err)
	}
	return s.GetByAddr(addr)
}

// SetPeerstate records whether a contact has a known Autocrypt peerstate
// and whether that peerstate prefers mutual encryption — the two facts
// the Message Preparer's E2EE decision (§4.3) depends on.
func (s *Store) SetPeerstate(id int64, hasPeerstate, preferMutual bool) error {
	_, err := s.db.Exec(`UPDATE contacts SET has_peerstate = ?, prefer_encrypt_mutual = ? WHERE id = ?`,
		boolToInt(hasPeerstate), boolToInt(preferMutual), id)
	return err
}

// SetVerified records the bidirectional-verification state the
// verified-group invariant (§4.5) enforces.
func (s *Store) SetVerified(id int64, verified bool) error {
	_, err := s.db.Exec(`UPDATE contacts SET verified = ? WHERE id = ?`, boolToInt(verified), id)
	return err
}

func scanContact(row *sql.Row) (*Contact, error) {
	c := &Contact{}
	var isSelf, hasPeerstate, preferMutual, verified int
	err := row.Scan(&c.ID, &c.Addr, &c.DisplayName, &isSelf, &hasPeerstate, &preferMutual, &verified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}
	c.IsSelf = isSelf != 0
	c.HasPeerstate = hasPeerstate != 0
	c.PreferEncryptMutual = preferMutual != 0
	c.Verified = verified != 0
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
