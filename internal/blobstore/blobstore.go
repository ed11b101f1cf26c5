// Package blobstore places attachment and profile-image files under a
// single blob directory with collision-free names, the pattern the
// teacher's attachment downloader uses against its platform-specific
// AttachmentsPath (app/attachment.go, internal/platform/*).
package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store copies files into a blob directory under unique names and
// resolves blob names back to absolute paths.
type Store struct {
	dir string
}

// New creates a blob store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the blob directory root.
func (s *Store) Dir() string {
	return s.dir
}

// Path resolves a stored blob name to its absolute path.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// CopyIn copies the file at srcPath into the blob directory under a
// unique name derived from its original basename, and returns that name.
// The original extension is preserved so MIME-type guessing downstream
// (the Message Preparer's attachment handling, §4.3) keeps working.
func (s *Store) CopyIn(srcPath string) (name string, err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	name = uniqueName(filepath.Base(srcPath))
	dstPath := s.Path(name)

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create blob file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("failed to copy into blob store: %w", err)
	}

	return name, nil
}

// WriteBytes writes data into the blob directory under a unique name
// built from the given base filename (e.g. "location.kml").
func (s *Store) WriteBytes(baseName string, data []byte) (name string, err error) {
	name = uniqueName(baseName)
	if err := os.WriteFile(s.Path(name), data, 0600); err != nil {
		return "", fmt.Errorf("failed to write blob file: %w", err)
	}
	return name, nil
}

// Remove deletes a blob by name. It is not an error if the blob is
// already gone.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// IsInStore reports whether path already lives inside the blob
// directory — attachments already in the store are referenced in place
// rather than copied again, mirroring the teacher's draft attachment
// handling.
func (s *Store) IsInStore(path string) bool {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..")
}

func uniqueName(base string) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = "blob"
	}
	return fmt.Sprintf("%s-%s%s", stem, uuid.NewString(), ext)
}
