// Package pgp parses, fingerprints, and armors the PGP identity keys
// internal/imex's self-key store and Autocrypt Setup Message transfer
// operate on. Narrowed from the teacher's internal/pgp package (which
// also covered PGP/MIME signing, verification, and HKP/WKD key-server
// lookup for a multi-account keyring) down to the plain key-material
// helpers this engine's single-account design actually calls.
package pgp

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// ParseArmoredKey parses an ASCII-armored PGP key (public or private)
func ParseArmoredKey(armored string) (openpgp.EntityList, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("failed to parse armored key: %w", err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("no keys found in armored data")
	}
	return entities, nil
}

// KeyFingerprint returns the hex fingerprint of a PGP entity
func KeyFingerprint(entity *openpgp.Entity) string {
	return fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)
}

// ExtractEmailFromKey extracts the email address from the first identity of a PGP entity
func ExtractEmailFromKey(entity *openpgp.Entity) string {
	for _, ident := range entity.Identities {
		if ident.UserId != nil && ident.UserId.Email != "" {
			return ident.UserId.Email
		}
	}
	return ""
}

// ArmorPublicKey exports a PGP entity's public key as ASCII-armored text
func ArmorPublicKey(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, "PGP PUBLIC KEY BLOCK", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create armor writer: %w", err)
	}
	if err := entity.Serialize(w); err != nil {
		return "", fmt.Errorf("failed to serialize public key: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close armor writer: %w", err)
	}
	return buf.String(), nil
}

// ArmorPrivateKey exports a PGP entity's private key as ASCII-armored text
func ArmorPrivateKey(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, "PGP PRIVATE KEY BLOCK", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create armor writer: %w", err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		return "", fmt.Errorf("failed to serialize private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close armor writer: %w", err)
	}
	return buf.String(), nil
}
