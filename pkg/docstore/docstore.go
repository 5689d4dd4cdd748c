// Package docstore implements the on-disk document store collaborator
// spec.md §1 and §6 describe as external to the engine: load/save of a byte
// blob keyed by FileID, persisted as `<name> - <file_id>.txt` under a
// configured directory.
package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists document blobs as flat files.
type Store struct {
	dir         string
	maxFileSize int
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string, maxFileSize int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}
	return &Store{dir: dir, maxFileSize: maxFileSize}, nil
}

func (s *Store) pathFor(fileID, name string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s - %s.txt", name, fileID))
}

// Save writes content for fileID/name, rejecting anything over
// maxFileSize.
func (s *Store) Save(fileID, name string, content []byte) error {
	if s.maxFileSize > 0 && len(content) > s.maxFileSize {
		return fmt.Errorf("content size %d exceeds max_file_size %d", len(content), s.maxFileSize)
	}
	if err := s.removeExisting(fileID); err != nil {
		return err
	}
	path := s.pathFor(fileID, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write document %s: %w", fileID, err)
	}
	return nil
}

// Load finds the file matching fileID regardless of the name component and
// returns its content and name, or (nil, "", false, nil) if not found.
func (s *Store) Load(fileID string) (content []byte, name string, found bool, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, "", false, fmt.Errorf("read documents dir: %w", err)
	}

	suffix := fmt.Sprintf(" - %s.txt", fileID)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), suffix) {
			if s.maxFileSize > 0 {
				if info, statErr := e.Info(); statErr == nil && int(info.Size()) > s.maxFileSize {
					return nil, "", false, fmt.Errorf("document %s exceeds max_file_size", fileID)
				}
			}
			data, readErr := os.ReadFile(filepath.Join(s.dir, e.Name()))
			if readErr != nil {
				return nil, "", false, fmt.Errorf("read document %s: %w", fileID, readErr)
			}
			return data, strings.TrimSuffix(e.Name(), suffix), true, nil
		}
	}
	return nil, "", false, nil
}

// Delete removes the blob backing fileID, if any.
func (s *Store) Delete(fileID string) error {
	return s.removeExisting(fileID)
}

func (s *Store) removeExisting(fileID string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read documents dir: %w", err)
	}
	suffix := fmt.Sprintf(" - %s.txt", fileID)
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				return fmt.Errorf("remove document %s: %w", fileID, err)
			}
		}
	}
	return nil
}
