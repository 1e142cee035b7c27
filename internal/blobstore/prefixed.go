package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"boxstore/internal/box"
)

// PrefixedStore scopes a shared store to one account by prepending a fixed
// prefix to every key.
type PrefixedStore struct {
	inner  box.BlobStore
	prefix string
}

// NewPrefixedStore scopes inner to prefix. A trailing '/' is added if missing.
func NewPrefixedStore(inner box.BlobStore, prefix string) *PrefixedStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &PrefixedStore{inner: inner, prefix: prefix}
}

// AccountPrefix is the store prefix used for an account ID.
func AccountPrefix(accountID uint32) string {
	return fmt.Sprintf("%08x", accountID)
}

func (s *PrefixedStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	return s.inner.Put(ctx, s.prefix+key, r)
}

func (s *PrefixedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *PrefixedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}

func (s *PrefixedStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, s.prefix+key)
}

func (s *PrefixedStore) SizeInBlocks(ctx context.Context, key string) (int64, error) {
	return s.inner.SizeInBlocks(ctx, s.prefix+key)
}

func (s *PrefixedStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.inner.List(ctx, s.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, s.prefix)
	}
	return keys, nil
}

func (s *PrefixedStore) BlockSize() int64 { return s.inner.BlockSize() }

func (s *PrefixedStore) ValidateSetup(ctx context.Context) error {
	return s.inner.ValidateSetup(ctx)
}

var _ box.BlobStore = (*PrefixedStore)(nil)
