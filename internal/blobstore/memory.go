package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"boxstore/internal/box"
)

// DefaultBlockSize is the usage accounting unit when none is configured.
const DefaultBlockSize int64 = 4096

// MemoryStore is an in-memory implementation of the BlobStore interface.
// It is useful for testing. Safe for concurrent use.
type MemoryStore struct {
	blobs     map[string][]byte
	blockSize int64
	mu        sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(blockSize int64) *MemoryStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &MemoryStore{
		blobs:     make(map[string][]byte),
		blockSize: blockSize,
	}
}

// Put stores the blob. The read completes before the blob becomes visible.
func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read blob: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[key] = data
	return box.BlocksForSize(int64(len(data)), m.blockSize), nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", box.ErrBlobNotFound, key)
	}
	// Stored slices are never modified in place, only replaced.
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, key)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blobs[key]
	return ok, nil
}

func (m *MemoryStore) SizeInBlocks(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", box.ErrBlobNotFound, key)
	}
	return box.BlocksForSize(int64(len(data)), m.blockSize), nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) BlockSize() int64 { return m.blockSize }

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(context.Context) error {
	return nil
}

// Corrupt overwrites a blob in place. Tests use it to simulate damage.
func (m *MemoryStore) Corrupt(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
}

// Compile-time check that MemoryStore implements box.BlobStore interface
var _ box.BlobStore = (*MemoryStore)(nil)
