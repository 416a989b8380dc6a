// Package filestore holds attachment blobs. Metadata lives in storage;
// this only deals in bytes keyed by attachment ID.
package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"parley/internal/models"
)

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &Store{root: root}, nil
}

// path shards by ID prefix to keep directory sizes sane.
func (s *Store) path(id string) string {
	if len(id) < 2 {
		return filepath.Join(s.root, id)
	}
	return filepath.Join(s.root, id[:2], id)
}

// Save writes the blob under the attachment ID. The write goes to a temp
// file and is renamed into place, so a crash mid-upload never leaves a
// readable partial blob.
func (s *Store) Save(id string, r io.Reader, maxSize int64) (int64, error) {
	path := s.path(id)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	written, err := io.Copy(tmp, io.LimitReader(r, maxSize+1))
	if err != nil {
		return 0, fmt.Errorf("failed to write upload: %w", err)
	}
	if written > maxSize {
		return 0, models.Invalidf("file exceeds the %d byte limit", maxSize)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to rename upload: %w", err)
	}
	return written, nil
}

// Open returns the blob for reading.
func (s *Store) Open(id string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("attachment %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open attachment %s: %w", id, err)
	}
	return f, nil
}

// Delete removes the blob. Missing blobs are not an error.
func (s *Store) Delete(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete attachment %s: %w", id, err)
	}
	return nil
}
