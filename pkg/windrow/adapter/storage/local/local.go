// Package local provides a local file system implementation of the
// storage.Store interface, mainly for development and tests.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	storage "github.com/windrowio/windrow/pkg/windrow/adapter/storage"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// Store stores objects as files under a base directory.
type Store struct {
	baseDir string
}

var _ storage.Store = (*Store)(nil)

// New creates a local Store rooted at baseDir, creating the directory
// if it does not exist.
func New(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local storage base directory must be specified")
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory '%s': %w", baseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat storage directory '%s': %w", baseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("storage path '%s' is not a directory", baseDir)
	}
	return &Store{baseDir: baseDir}, nil
}

// Upload writes the data stream to a file under the base directory.
func (s *Store) Upload(ctx context.Context, objectName string, data io.Reader) error {
	fullPath, err := s.resolvePath(objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", objectName, err)
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", fullPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write data to '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded object '%s' to local storage.", objectName)
	return nil
}

// Download opens the named file for reading.
func (s *Store) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	fullPath, err := s.resolvePath(objectName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open object '%s': %w", objectName, err)
	}
	return file, nil
}

// List walks the files under the prefix in lexical order.
func (s *Store) List(ctx context.Context, prefix string, fn func(objectName string) error) error {
	root, err := s.resolvePath(prefix)
	if err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel))
	})
}

// Delete removes the named file.
func (s *Store) Delete(ctx context.Context, objectName string) error {
	fullPath, err := s.resolvePath(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to delete object '%s': %w", objectName, err)
	}
	return nil
}

// resolvePath joins the object name onto the base directory and rejects
// names that escape it.
func (s *Store) resolvePath(objectName string) (string, error) {
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(objectName))
	base, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(fullPath)
	if err != nil {
		return "", err
	}
	if abs != base && !strings.HasPrefix(abs, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("object name '%s' escapes the storage directory", objectName)
	}
	return fullPath, nil
}
