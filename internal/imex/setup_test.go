package imex

import (
	"strings"
	"testing"

	"github.com/mtlchat/corechat/internal/config"
	"github.com/mtlchat/corechat/internal/database"
)

func TestGenerateSetupCodeShapeAndUniqueness(t *testing.T) {
	code, err := GenerateSetupCode()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	groups := strings.Split(code, "-")
	if len(groups) != setupCodeGroups {
		t.Fatalf("expected %d groups, got %d (%q)", setupCodeGroups, len(groups), code)
	}
	for _, g := range groups {
		if len(g) != setupCodeGroupSize {
			t.Fatalf("expected 4-digit group, got %q", g)
		}
	}

	other, err := GenerateSetupCode()
	if err != nil {
		t.Fatalf("generate 2: %v", err)
	}
	if code == other {
		t.Fatalf("expected two generated codes to differ")
	}
}

func TestNormalizeSetupCodeStripsAndRegroups(t *testing.T) {
	raw := "1234 5678-9012.3456  7890-1234-5678-9012-3456"
	got := normalizeSetupCode(raw)
	want := "1234-5678-9012-3456-7890-1234-5678-9012-3456"
	if got != want {
		t.Fatalf("normalize: got %q want %q", got, want)
	}
}

func TestRenderSetupMessageThenContinueKeyTransferRoundTrips(t *testing.T) {
	entity := generateTestEntity(t, "alice@example.com")
	pub, priv, _ := armoredPair(t, entity)
	key := &SelfKey{ID: "k1", Email: "alice@example.com", PublicArmored: pub, PrivateArmored: priv}

	htmlBody, setupCode, err := RenderSetupMessage(key, true)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(htmlBody, "<html>") {
		t.Fatalf("expected html envelope, got %q", htmlBody)
	}

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	keys := NewKeyStore(db.DB)
	cfg := config.NewStore(db.DB)

	installed, err := ContinueKeyTransfer(keys, cfg, setupCode, htmlBody)
	if err != nil {
		t.Fatalf("continue key transfer: %v", err)
	}
	if installed.PrivateArmored != priv {
		t.Fatalf("expected recovered private key to match original")
	}

	enabled, err := cfg.E2EEEnabled()
	if err != nil {
		t.Fatalf("e2ee enabled: %v", err)
	}
	if !enabled {
		t.Fatalf("expected mutual preference to enable e2ee")
	}
}

func TestContinueKeyTransferRejectsWrongSetupCode(t *testing.T) {
	entity := generateTestEntity(t, "alice@example.com")
	pub, priv, _ := armoredPair(t, entity)
	key := &SelfKey{ID: "k1", Email: "alice@example.com", PublicArmored: pub, PrivateArmored: priv}

	htmlBody, _, err := RenderSetupMessage(key, false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	keys := NewKeyStore(db.DB)
	cfg := config.NewStore(db.DB)

	if _, err := ContinueKeyTransfer(keys, cfg, "0000-0000-0000-0000-0000-0000-0000-0000-0000", htmlBody); err == nil {
		t.Fatalf("expected wrong setup code to fail")
	}
}

func TestContinueKeyTransferReplacesSuperseededKey(t *testing.T) {
	entity := generateTestEntity(t, "alice@example.com")
	pub, priv, fp := armoredPair(t, entity)
	key := &SelfKey{ID: "k1", Email: "alice@example.com", PublicArmored: pub, PrivateArmored: priv}

	htmlBody, setupCode, err := RenderSetupMessage(key, false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	keys := NewKeyStore(db.DB)
	cfg := config.NewStore(db.DB)

	existing, err := keys.Save("alice@example.com", pub, priv)
	if err != nil {
		t.Fatalf("seed existing key: %v", err)
	}
	if fp == "" {
		t.Fatalf("expected non-empty fingerprint")
	}

	if _, err := ContinueKeyTransfer(keys, cfg, setupCode, htmlBody); err != nil {
		t.Fatalf("continue key transfer: %v", err)
	}

	all, err := keys.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, k := range all {
		if k.ID == existing.ID {
			t.Fatalf("expected superseded key to be removed")
		}
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one key after transfer, got %d", len(all))
	}
}
