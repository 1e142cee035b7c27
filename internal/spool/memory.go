package spool

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"boxstore/internal/box"
)

// MemorySpool is an in-memory Spool for tests. Safe for concurrent use.
type MemorySpool struct {
	files   map[string]*memoryBuffer
	maxSize int64
	mu      sync.Mutex
}

type memoryBuffer struct {
	data []byte
	mu   sync.RWMutex
}

// NewMemorySpool creates an empty spool.
func NewMemorySpool(maxSize int64) *MemorySpool {
	return &MemorySpool{files: make(map[string]*memoryBuffer), maxSize: maxSize}
}

func (s *MemorySpool) Create(name string) (box.SpoolFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[name]; ok {
		return nil, fmt.Errorf("spool file already exists: %s", name)
	}
	b := &memoryBuffer{}
	s.files[name] = b
	return &memorySpoolFile{buf: b, name: name, maxSize: s.maxSize}, nil
}

func (s *MemorySpool) Open(name string) (box.SpoolFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.files[name]
	if !ok {
		return nil, nil
	}
	return &memorySpoolFile{buf: b, name: name, maxSize: s.maxSize}, nil
}

func (s *MemorySpool) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.files, name)
	return nil
}

// Names lists the files currently in the spool.
func (s *MemorySpool) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.files))
	for n := range s.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// memorySpoolFile is a handle on a shared buffer. Removing the file from
// the spool does not invalidate open handles.
type memorySpoolFile struct {
	buf     *memoryBuffer
	name    string
	maxSize int64
	closed  bool
}

func (f *memorySpoolFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("spool file closed: %s", f.name)
	}
	f.buf.mu.Lock()
	defer f.buf.mu.Unlock()

	if f.maxSize > 0 && int64(len(f.buf.data)+len(p)) > f.maxSize {
		return 0, fmt.Errorf("%w: %s", ErrFileTooLarge, f.name)
	}
	f.buf.data = append(f.buf.data, p...)
	return len(p), nil
}

func (f *memorySpoolFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("spool file closed: %s", f.name)
	}
	f.buf.mu.RLock()
	defer f.buf.mu.RUnlock()

	if off < 0 {
		return 0, fmt.Errorf("negative offset")
	}
	if off >= int64(len(f.buf.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memorySpoolFile) Close() error {
	f.closed = true
	return nil
}

func (f *memorySpoolFile) Name() string { return f.name }

func (f *memorySpoolFile) Size() (int64, error) {
	f.buf.mu.RLock()
	defer f.buf.mu.RUnlock()
	return int64(len(f.buf.data)), nil
}

// Compile-time check that MemorySpool implements box.Spool interface
var _ box.Spool = (*MemorySpool)(nil)
