package testutil

import (
	"boxstore/internal/blobstore"
)

// TestBlockSize is the block size of test stores. It is small so that
// usage accounting is visible with tiny files.
const TestBlockSize int64 = 64

// NewTestBlobStore creates an in-memory blob store with TestBlockSize blocks.
func NewTestBlobStore() *blobstore.MemoryStore {
	return blobstore.NewMemoryStore(TestBlockSize)
}
