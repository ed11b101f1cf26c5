package imex

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExportSelfKeysThenImportSelfKeysRoundTrips(t *testing.T) {
	m, root := newTestManager(t)

	entity := generateTestEntity(t, "alice@example.com")
	pub, priv, _ := armoredPair(t, entity)
	if _, err := m.keys.Save("alice@example.com", pub, priv); err != nil {
		t.Fatalf("seed self key: %v", err)
	}

	dir := filepath.Join(root, "keys")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	pubPath, privPath, err := m.ExportSelfKeys(dir)
	if err != nil {
		t.Fatalf("export self keys: %v", err)
	}
	for _, p := range []string{pubPath, privPath} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected exported file %q to exist: %v", p, err)
		}
	}

	m2, _ := newTestManager(t)
	n, err := m2.ImportSelfKeys(dir)
	if err != nil {
		t.Fatalf("import self keys: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one key imported (public-only file skipped), got %d", n)
	}

	def, err := m2.keys.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if def == nil || def.PrivateArmored != priv {
		t.Fatalf("expected imported default key to match exported private key")
	}
}

func TestExportSelfKeysFailsWithoutAnyKey(t *testing.T) {
	m, root := newTestManager(t)
	if _, _, err := m.ExportSelfKeys(root); err == nil {
		t.Fatalf("expected export to fail when no self key exists")
	}
}

func TestManagerRenderSetupMessageThenContinueKeyTransfer(t *testing.T) {
	m, _ := newTestManager(t)
	entity := generateTestEntity(t, "alice@example.com")
	pub, priv, _ := armoredPair(t, entity)
	if _, err := m.keys.Save("alice@example.com", pub, priv); err != nil {
		t.Fatalf("seed self key: %v", err)
	}

	htmlBody, setupCode, err := m.RenderSetupMessage(false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	m2, _ := newTestManager(t)
	installed, err := m2.ContinueKeyTransfer(setupCode, htmlBody)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if installed.PrivateArmored != priv {
		t.Fatalf("expected transferred key to match source")
	}
}
