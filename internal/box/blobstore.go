package box

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// BlobStore is the durable storage layer under an account. Every call is
// atomic on its own: a Put is either fully visible or not at all, and a
// concurrent Get never observes a partial write. There is no grouping of
// calls into transactions.
type BlobStore interface {
	// Put stores the bytes read from r under key, replacing any existing blob,
	// and returns the usage of the stored blob in blocks.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)

	// Get opens the blob stored under key. Returns ErrBlobNotFound if absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// SizeInBlocks returns the usage of the blob in blocks.
	// Returns ErrBlobNotFound if absent.
	SizeInBlocks(ctx context.Context, key string) (int64, error)

	// List returns all keys starting with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// BlockSize is the allocation unit used for usage accounting, in bytes.
	BlockSize() int64

	// ValidateSetup verifies that the store is accessible.
	ValidateSetup(ctx context.Context) error
}

// Well-known keys inside an account store.
const (
	StoreInfoKey   = "info"
	BackupsListKey = "backups.lst"
	ResumeInfoKey  = "resume.info"

	objectKeyPrefix = "objects/"
)

// ObjectKey returns the blob key for an object. Objects are fanned out over
// 256 sub-prefixes by the low byte of their ID.
func ObjectKey(id ObjectID) string {
	return fmt.Sprintf("%s%02x/%016x", objectKeyPrefix, uint64(id)&0xff, uint64(id))
}

// ObjectKeyPrefix is the common prefix of all object keys.
func ObjectKeyPrefix() string {
	return objectKeyPrefix
}

// ParseObjectKey extracts the object ID from a key produced by ObjectKey.
func ParseObjectKey(key string) (ObjectID, bool) {
	rest, ok := strings.CutPrefix(key, objectKeyPrefix)
	if !ok {
		return 0, false
	}
	fan, name, ok := strings.Cut(rest, "/")
	if !ok || len(fan) != 2 || len(name) != 16 {
		return 0, false
	}
	v, err := strconv.ParseUint(name, 16, 64)
	if err != nil || v == 0 || v > 1<<63-1 {
		return 0, false
	}
	if fmt.Sprintf("%02x", v&0xff) != fan {
		return 0, false
	}
	return ObjectID(v), true
}

// BlocksForSize converts a byte size to a block count, rounding up.
func BlocksForSize(size, blockSize int64) int64 {
	if size <= 0 {
		return 0
	}
	if blockSize <= 0 {
		blockSize = 1
	}
	return (size + blockSize - 1) / blockSize
}
