package imex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mtlchat/corechat/internal/appstate"
	"github.com/mtlchat/corechat/internal/blobstore"
	"github.com/mtlchat/corechat/internal/config"
	"github.com/mtlchat/corechat/internal/database"
	"github.com/mtlchat/corechat/internal/events"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()

	dbPath := filepath.Join(root, "corechat.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	blobDir := filepath.Join(root, "blobs")
	blobs, err := blobstore.New(blobDir)
	if err != nil {
		t.Fatalf("open blobstore: %v", err)
	}

	cfg := config.NewStore(db.DB)
	bus := events.New()
	ongoing := appstate.NewOngoing()

	return NewManager(db, blobs, cfg, bus, ongoing), root
}

func TestExportBackupProducesDatedFileWithEmbeddedBlobs(t *testing.T) {
	m, root := newTestManager(t)

	if _, err := m.blobs.WriteBytes("photo.jpg", []byte("image-bytes")); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	exportDir := filepath.Join(root, "export")
	if err := os.MkdirAll(exportDir, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var progressed []int
	m.events.SetHandler(func(ev events.Event) {
		if ev.Kind == events.ImexProgress {
			progressed = append(progressed, ev.Permille)
		}
	})

	path, err := m.ExportBackup(exportDir)
	if err != nil {
		t.Fatalf("export backup: %v", err)
	}
	if !isBackupFileName(filepath.Base(path)) {
		t.Fatalf("expected dated .bak name, got %q", path)
	}
	if len(progressed) == 0 || progressed[len(progressed)-1] != 1000 {
		t.Fatalf("expected progress to finish at 1000, got %v", progressed)
	}

	when, err := readBackupTime(path)
	if err != nil {
		t.Fatalf("read backup time: %v", err)
	}
	if when == 0 {
		t.Fatalf("expected backup_time to be recorded")
	}
}

func TestExportBackupRemovesPartialFileOnCancellation(t *testing.T) {
	m, root := newTestManager(t)

	if _, err := m.blobs.WriteBytes("photo.jpg", []byte("image-bytes")); err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	// Cancel only takes effect while the export holds the ongoing slot, so
	// request it from the first progress event.
	m.events.SetHandler(func(ev events.Event) {
		if ev.Kind == events.ImexProgress {
			m.ongoing.Cancel()
		}
	})

	exportDir := filepath.Join(root, "export")
	if err := os.MkdirAll(exportDir, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, err := m.ExportBackup(exportDir); err == nil {
		t.Fatalf("expected cancellation to surface as an error")
	}

	entries, err := os.ReadDir(exportDir)
	if err != nil {
		t.Fatalf("read export dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no partial backup file to remain, found %v", entries)
	}
}

func TestExportBackupRefusesWhileAnotherOperationIsOngoing(t *testing.T) {
	m, root := newTestManager(t)
	if err := m.ongoing.Acquire(KindExportSelfKeys); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.ongoing.Release()

	if _, err := m.ExportBackup(filepath.Join(root, "export")); err == nil {
		t.Fatalf("expected export to refuse while the slot is held")
	}
}

func TestImportBackupRefusesWhenAlreadyConfigured(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.cfg.Set(config.KeyConfiguredAddr, "alice@example.com"); err != nil {
		t.Fatalf("configure: %v", err)
	}

	if err := m.ImportBackup("/nonexistent.bak"); err == nil {
		t.Fatalf("expected import to refuse on an already-configured account")
	}
}

func TestExportThenImportBackupRoundTripsBlobs(t *testing.T) {
	m, root := newTestManager(t)

	if _, err := m.blobs.WriteBytes("photo.jpg", []byte("image-bytes")); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	exportDir := filepath.Join(root, "export")
	if err := os.MkdirAll(exportDir, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path, err := m.ExportBackup(exportDir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// A fresh, unconfigured account imports the backup.
	m2, _ := newTestManager(t)
	if err := m2.ImportBackup(path); err != nil {
		t.Fatalf("import: %v", err)
	}

	entries, err := os.ReadDir(m2.blobs.Dir())
	if err != nil {
		t.Fatalf("read blob dir: %v", err)
	}
	found := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".jpg" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected imported blob directory to contain the restored photo, got %v", entries)
	}
}

func TestHasBackupReturnsNewestMatchingFile(t *testing.T) {
	m, root := newTestManager(t)
	dir := filepath.Join(root, "export")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, err := m.ExportBackup(dir); err != nil {
		t.Fatalf("export: %v", err)
	}

	found, err := HasBackup(dir)
	if err != nil {
		t.Fatalf("has backup: %v", err)
	}
	if found == "" {
		t.Fatalf("expected has-backup to find the exported file")
	}
}

func TestHasBackupEmptyWhenDirHasNoBackups(t *testing.T) {
	root := t.TempDir()
	found, err := HasBackup(root)
	if err != nil {
		t.Fatalf("has backup: %v", err)
	}
	if found != "" {
		t.Fatalf("expected no backup to be found, got %q", found)
	}
}
