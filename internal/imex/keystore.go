// Package imex implements Import/Export & the Autocrypt Setup Message
// (spec.md §4.7): self-key export/import, whole-account backup
// export/import via a sibling SQLite file with an embedded blob table,
// has-backup discovery, and ASM render/continue-key-transfer. Grounded
// on the teacher's internal/pgp package (key parsing/armouring,
// encrypt/decrypt shape) narrowed from its multi-account, keyring-backed
// design to this engine's single account, with the private key stored
// directly in the main database rather than the OS keyring — the core
// never holds transport credentials (§1), but the Autocrypt identity key
// is core chat state, not a transport secret.
package imex

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/logging"
	"github.com/mtlchat/corechat/internal/pgp"
)

// SelfKey is one row of the self_keys table: the account's own
// Autocrypt identity key pair.
type SelfKey struct {
	ID             string
	Email          string
	Fingerprint    string
	PublicArmored  string
	PrivateArmored string
	IsDefault      bool
	CreatedAt      time.Time
}

// KeyStore persists the account's own PGP identity keys.
type KeyStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewKeyStore creates a self-key store.
func NewKeyStore(db *sql.DB) *KeyStore {
	return &KeyStore{db: db, log: logging.WithComponent("imex-keystore")}
}

// Save inserts a new self key, replacing any existing row with the same
// fingerprint. The first saved key becomes the default.
func (s *KeyStore) Save(email, publicArmored, privateArmored string) (*SelfKey, error) {
	entities, err := pgp.ParseArmoredKey(publicArmored)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	fingerprint := pgp.KeyFingerprint(entities[0])

	n, err := s.Count()
	if err != nil {
		return nil, err
	}
	isDefault := n == 0

	k := &SelfKey{
		ID:             uuid.New().String(),
		Email:          email,
		Fingerprint:    fingerprint,
		PublicArmored:  publicArmored,
		PrivateArmored: privateArmored,
		IsDefault:      isDefault,
		CreatedAt:      time.Now(),
	}

	_, err = s.db.Exec(`
		INSERT INTO self_keys (id, email, fingerprint, public_armored, private_armored, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			email = excluded.email,
			public_armored = excluded.public_armored,
			private_armored = excluded.private_armored`,
		k.ID, k.Email, k.Fingerprint, k.PublicArmored, k.PrivateArmored, boolToInt(k.IsDefault), k.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save self key: %w", err)
	}
	return k, nil
}

// Count returns the number of stored self keys.
func (s *KeyStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM self_keys`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count self keys: %w", err)
	}
	return n, nil
}

// Default returns the default self key, or nil if none exists.
func (s *KeyStore) Default() (*SelfKey, error) {
	return s.scanOne(s.db.QueryRow(`
		SELECT id, email, fingerprint, public_armored, private_armored, is_default, created_at
		FROM self_keys WHERE is_default = 1`))
}

// List returns every stored self key, newest first.
func (s *KeyStore) List() ([]*SelfKey, error) {
	rows, err := s.db.Query(`
		SELECT id, email, fingerprint, public_armored, private_armored, is_default, created_at
		FROM self_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list self keys: %w", err)
	}
	defer rows.Close()

	var out []*SelfKey
	for rows.Next() {
		k := &SelfKey{}
		var isDefault int
		if err := rows.Scan(&k.ID, &k.Email, &k.Fingerprint, &k.PublicArmored, &k.PrivateArmored, &isDefault, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan self key: %w", err)
		}
		k.IsDefault = isDefault != 0
		out = append(out, k)
	}
	return out, rows.Err()
}

// SetDefault marks id as the default key, clearing the flag on every
// other row.
func (s *KeyStore) SetDefault(id string) error {
	_, err := s.db.Exec(`UPDATE self_keys SET is_default = CASE WHEN id = ? THEN 1 ELSE 0 END`, id)
	if err != nil {
		return fmt.Errorf("failed to set default self key: %w", err)
	}
	return nil
}

// Delete removes a self key by id.
func (s *KeyStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM self_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete self key: %w", err)
	}
	return nil
}

// DeleteByFingerprintHalf removes any key whose fingerprint shares
// either half with fp — the install step of continue-key-transfer uses
// this to retire a key the incoming one supersedes (spec.md §4.7).
func (s *KeyStore) DeleteByFingerprintHalf(fp string) error {
	if len(fp) < 2 {
		return nil
	}
	mid := len(fp) / 2
	first, second := fp[:mid], fp[mid:]

	keys, err := s.List()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if len(k.Fingerprint) < 2 {
			continue
		}
		kmid := len(k.Fingerprint) / 2
		if k.Fingerprint[:kmid] == first || k.Fingerprint[kmid:] == second {
			if err := s.Delete(k.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *KeyStore) scanOne(row *sql.Row) (*SelfKey, error) {
	k := &SelfKey{}
	var isDefault int
	err := row.Scan(&k.ID, &k.Email, &k.Fingerprint, &k.PublicArmored, &k.PrivateArmored, &isDefault, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan self key: %w", err)
	}
	k.IsDefault = isDefault != 0
	return k, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
