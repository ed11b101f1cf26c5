package imex

import (
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/mtlchat/corechat/internal/pgp"
)

// generateTestEntity creates a fresh, minimally-sized PGP identity for
// tests that need a real key pair rather than fixture text.
func generateTestEntity(t *testing.T, email string) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity(email, "", email, &packet.Config{RSABits: 2048})
	if err != nil {
		t.Fatalf("generate test entity: %v", err)
	}
	return entity
}

func armoredPair(t *testing.T, entity *openpgp.Entity) (public, private, fingerprint string) {
	t.Helper()
	pub, err := pgp.ArmorPublicKey(entity)
	if err != nil {
		t.Fatalf("armor public: %v", err)
	}
	priv, err := pgp.ArmorPrivateKey(entity)
	if err != nil {
		t.Fatalf("armor private: %v", err)
	}
	return pub, priv, pgp.KeyFingerprint(entity)
}
