package spool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"boxstore/internal/box"
)

// ErrFileTooLarge is returned when a write would take a spool file past the
// configured maximum size.
var ErrFileTooLarge = errors.New("spool file exceeds maximum size")

// FileSystemSpool keeps spool files as regular files in one directory:
//
//	<spool_dir>/
//	  upload-<id>
//	  combine-<id>
type FileSystemSpool struct {
	dir     string
	maxSize int64
}

// NewFileSystemSpool creates the spool directory if needed. maxSize of 0
// means files may grow without bound.
func NewFileSystemSpool(dir string, maxSize int64) (*FileSystemSpool, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return &FileSystemSpool{dir: dir, maxSize: maxSize}, nil
}

func (s *FileSystemSpool) pathFor(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid spool file name: %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *FileSystemSpool) Create(name string) (box.SpoolFile, error) {
	p, err := s.pathFor(name)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	return &fileSpoolFile{f: f, name: name, maxSize: s.maxSize}, nil
}

func (s *FileSystemSpool) Open(name string) (box.SpoolFile, error) {
	p, err := s.pathFor(name)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open spool file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat spool file: %w", err)
	}
	return &fileSpoolFile{f: f, name: name, maxSize: s.maxSize, size: info.Size()}, nil
}

func (s *FileSystemSpool) Remove(name string) error {
	p, err := s.pathFor(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove spool file: %w", err)
	}
	return nil
}

// Names lists the files currently in the spool.
func (s *FileSystemSpool) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

type fileSpoolFile struct {
	f       *os.File
	name    string
	maxSize int64
	size    int64
}

func (f *fileSpoolFile) Write(p []byte) (int, error) {
	if f.maxSize > 0 && f.size+int64(len(p)) > f.maxSize {
		return 0, fmt.Errorf("%w: %s", ErrFileTooLarge, f.name)
	}
	n, err := f.f.Write(p)
	f.size += int64(n)
	return n, err
}

func (f *fileSpoolFile) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *fileSpoolFile) Close() error         { return f.f.Close() }
func (f *fileSpoolFile) Name() string         { return f.name }
func (f *fileSpoolFile) Size() (int64, error) { return f.size, nil }

var _ box.Spool = (*FileSystemSpool)(nil)
