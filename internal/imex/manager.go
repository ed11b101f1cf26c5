package imex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/appstate"
	"github.com/mtlchat/corechat/internal/blobstore"
	"github.com/mtlchat/corechat/internal/config"
	"github.com/mtlchat/corechat/internal/corerr"
	"github.com/mtlchat/corechat/internal/database"
	"github.com/mtlchat/corechat/internal/events"
	"github.com/mtlchat/corechat/internal/logging"
	"github.com/mtlchat/corechat/internal/pgp"
)

// Operation kinds, passed to Ongoing.Acquire and reported through
// Ongoing.Kind so a host can label whichever transfer is in flight.
const (
	KindExportBackup   = "export-backup"
	KindImportBackup   = "import-backup"
	KindExportSelfKeys = "export-self-keys"
	KindImportSelfKeys = "import-self-keys"
)

// Manager is the public façade over this package: self-key persistence,
// whole-account backup export/import, and the Autocrypt Setup Message
// flow, every long-running operation serialised through a shared
// appstate.Ongoing slot (spec.md §4.7, §5).
type Manager struct {
	db      *database.DB
	blobs   *blobstore.Store
	cfg     *config.Store
	events  *events.Bus
	ongoing *appstate.Ongoing
	keys    *KeyStore
	log     zerolog.Logger
}

// NewManager wires a Manager from its dependencies.
func NewManager(db *database.DB, blobs *blobstore.Store, cfg *config.Store, bus *events.Bus, ongoing *appstate.Ongoing) *Manager {
	return &Manager{
		db:      db,
		blobs:   blobs,
		cfg:     cfg,
		events:  bus,
		ongoing: ongoing,
		keys:    NewKeyStore(db.DB),
		log:     logging.WithComponent("imex-manager"),
	}
}

// Keys exposes the self-key store, e.g. for a settings screen listing
// installed identities.
func (m *Manager) Keys() *KeyStore {
	return m.keys
}

// ExportSelfKeys writes the default self key's public and private
// armored keys as sibling files under dir, returning their paths.
func (m *Manager) ExportSelfKeys(dir string) (publicPath, privatePath string, err error) {
	if err := m.ongoing.Acquire(KindExportSelfKeys); err != nil {
		return "", "", err
	}
	defer m.ongoing.Release()

	key, err := m.keys.Default()
	if err != nil {
		return "", "", err
	}
	if key == nil {
		return "", "", fmt.Errorf("%w: no self key is configured", corerr.ErrPrecondition)
	}

	m.events.EmitImexProgress(100)

	publicPath = filepath.Join(dir, fmt.Sprintf("%s-public.asc", key.Email))
	if err := os.WriteFile(publicPath, []byte(key.PublicArmored), 0600); err != nil {
		return "", "", fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}
	m.events.EmitImexFileWritten(publicPath)
	m.events.EmitImexProgress(550)

	privatePath = filepath.Join(dir, fmt.Sprintf("%s-private.asc", key.Email))
	if err := os.WriteFile(privatePath, []byte(key.PrivateArmored), 0600); err != nil {
		return "", "", fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}
	m.events.EmitImexFileWritten(privatePath)
	m.events.EmitImexProgress(1000)

	return publicPath, privatePath, nil
}

// ImportSelfKeys scans dir for armored private-key files (".asc",
// ".pem", ".key") and installs each as a self key, deriving the public
// armored form from the parsed entity. Files holding only a public key
// carry no private material and cannot serve as a self identity, so they
// are skipped. The last key installed becomes the default.
func (m *Manager) ImportSelfKeys(dir string) (int, error) {
	if err := m.ongoing.Acquire(KindImportSelfKeys); err != nil {
		return 0, err
	}
	defer m.ongoing.Release()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}

	imported := 0
	var lastID string
	total := len(entries)
	for i, entry := range entries {
		if m.ongoing.Cancelled() {
			return imported, corerr.ErrCancelled
		}
		if entry.IsDir() || !isKeyFileName(entry.Name()) {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return imported, fmt.Errorf("%w: %v", corerr.ErrIO, err)
		}

		entities, err := pgp.ParseArmoredKey(string(content))
		if err != nil || len(entities) == 0 || entities[0].PrivateKey == nil {
			m.log.Warn().Str("file", entry.Name()).Msg("skipping file with no usable private key")
			continue
		}
		entity := entities[0]

		publicArmored, err := pgp.ArmorPublicKey(entity)
		if err != nil {
			return imported, fmt.Errorf("%w: %v", corerr.ErrIO, err)
		}

		key, err := m.keys.Save(pgp.ExtractEmailFromKey(entity), publicArmored, string(content))
		if err != nil {
			return imported, err
		}
		lastID = key.ID
		imported++

		if total > 0 {
			m.events.EmitImexProgress(rescale(i+1, total))
		}
	}

	if lastID != "" {
		if err := m.keys.SetDefault(lastID); err != nil {
			return imported, err
		}
	}

	return imported, nil
}

func isKeyFileName(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".asc" || ext == ".pem" || ext == ".key"
}

// RenderSetupMessage builds an Autocrypt Setup Message for the account's
// default self key.
func (m *Manager) RenderSetupMessage(preferEncryptMutual bool) (htmlBody, setupCode string, err error) {
	key, err := m.keys.Default()
	if err != nil {
		return "", "", err
	}
	if key == nil {
		return "", "", fmt.Errorf("%w: no self key is configured", corerr.ErrPrecondition)
	}
	return RenderSetupMessage(key, preferEncryptMutual)
}

// ContinueKeyTransfer installs the private key carried by an incoming
// Autocrypt Setup Message.
func (m *Manager) ContinueKeyTransfer(enteredCode, htmlBody string) (*SelfKey, error) {
	return ContinueKeyTransfer(m.keys, m.cfg, enteredCode, htmlBody)
}
