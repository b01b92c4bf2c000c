package files

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// contentSuffix is the extension of raw content blobs.
	contentSuffix = ".nca"
	// metaSuffix is the extension of content-metadata files. Downstream
	// tools use it to tell metadata apart from content.
	metaSuffix = ".cnmt.nca"

	// dirPermissions is the mode for the output directory.
	dirPermissions os.FileMode = 0o755
	// filePermissions is the mode for downloaded files.
	filePermissions os.FileMode = 0o644
)

// Store writes update parts under a single output directory. Distinct
// content identifiers map to distinct paths, so concurrent writes for
// different items need no coordination.
type Store struct {
	// root is the resolved output directory of the run.
	root string
}

// NewStore creates a store rooted at the provided output directory.
// The directory is not touched until CreateRoot or ResetRoot is called.
func NewStore(root string) *Store {
	return &Store{
		root: filepath.Clean(root),
	}
}

// Root returns the output directory of the store.
func (s *Store) Root() string {
	return s.root
}

// RootExists reports whether the output directory is already present.
func (s *Store) RootExists() (bool, error) {
	_, err := os.Stat(s.root)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, fmt.Errorf("stat output directory: %w", err)
}

// CreateRoot creates the output directory.
func (s *Store) CreateRoot() error {
	if err := os.MkdirAll(s.root, dirPermissions); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	return nil
}

// ResetRoot removes the output directory and recreates it empty. It runs
// once, before any concurrent writes, so directory existence is never raced.
func (s *Store) ResetRoot() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("clear output directory: %w", err)
	}

	return s.CreateRoot()
}

// Target derives the storage path for an item. Two items with the same
// identifier but a different meta flag never share a path.
func (s *Store) Target(contentID string, meta bool) string {
	suffix := contentSuffix
	if meta {
		suffix = metaSuffix
	}

	return filepath.Join(s.root, contentID+suffix)
}

// Write persists one downloaded item. The file handle is closed on every
// exit path and close errors are reported: a silently short file would
// break the completeness of the output set.
func (s *Store) Write(contentID string, meta bool, data []byte) (err error) {
	target := s.Target(contentID, meta)

	file, err := os.OpenFile(filepath.Clean(target), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermissions)
	if err != nil {
		return fmt.Errorf("open %s: %w", target, err)
	}

	defer func() {
		closeErr := file.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("close %s: %w", target, closeErr)
		}
	}()

	if _, err = file.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}

	return nil
}
