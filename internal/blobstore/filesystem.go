package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"boxstore/internal/box"
)

// FileSystemStore is a filesystem-based implementation of the BlobStore
// interface. Each key is a file below root, with '/' in keys mapping to
// subdirectories:
//
//	<root>/
//	  info
//	  backups.lst
//	  objects/
//	    <low byte>/<object id>
type FileSystemStore struct {
	root      string
	blockSize int64
}

// NewFileSystemStore creates a store rooted at the given path.
func NewFileSystemStore(root string, blockSize int64) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &FileSystemStore{root: root, blockSize: blockSize}, nil
}

// Root returns the directory holding the blobs.
func (s *FileSystemStore) Root() string { return s.root }

func (s *FileSystemStore) pathFor(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	if strings.HasPrefix(path.Base(key), ".tmp-") {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put writes the blob using atomic write (temp file + rename).
func (s *FileSystemStore) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	destPath, err := s.pathFor(key)
	if err != nil {
		return 0, err
	}

	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create blob directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return box.BlocksForSize(written, s.blockSize), nil
}

func (s *FileSystemStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", box.ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *FileSystemStore) Delete(_ context.Context, key string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *FileSystemStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *FileSystemStore) SizeInBlocks(_ context.Context, key string) (int64, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", box.ErrBlobNotFound, key)
		}
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return box.BlocksForSize(info.Size(), s.blockSize), nil
}

// List walks the tree below root. Leftover temp files are skipped.
func (s *FileSystemStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileSystemStore) BlockSize() int64 { return s.blockSize }

// ValidateSetup verifies that the store root is an accessible directory.
func (s *FileSystemStore) ValidateSetup(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("store root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store root is not a directory: %s", s.root)
	}
	return nil
}

// Compile-time check that FileSystemStore implements box.BlobStore interface
var _ box.BlobStore = (*FileSystemStore)(nil)
