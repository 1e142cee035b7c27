package blobstore

import (
	"context"
	"fmt"
	"io"

	"boxstore/internal/box"
	"boxstore/internal/config"
)

// NewBlobStoreFromConfig creates the shared BlobStore described by cfg,
// wrapped in a SealedStore when compression or encryption is enabled.
// dec may be nil, in which case reads from an encrypted store fail with
// ErrStoreLocked.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.BlobStoreConfig, enc box.Encryptor, dec box.DecryptionContext) (box.BlobStore, error) {
	var store box.BlobStore
	switch cfg.Type {
	case "memory":
		store = NewMemoryStore(cfg.BlockSize)
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem blob store requires root to be set")
		}
		fs, err := NewFileSystemStore(cfg.Root, cfg.BlockSize)
		if err != nil {
			return nil, err
		}
		store = fs
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 blob store requires s3_bucket to be set")
		}
		s3store, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			BlockSize:       cfg.BlockSize,
		})
		if err != nil {
			return nil, err
		}
		store = s3store
	case "badger":
		bs, err := NewBadgerStore(cfg.BadgerDir, cfg.BlockSize)
		if err != nil {
			return nil, err
		}
		store = bs
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}

	if !cfg.Compress && !cfg.Encrypt {
		return store, nil
	}
	if cfg.Encrypt {
		if enc == nil {
			closeStore(store)
			return nil, fmt.Errorf("blob store encryption enabled but no encryptor configured")
		}
		return NewSealedStore(store, cfg.Compress, enc, dec), nil
	}
	return NewSealedStore(store, cfg.Compress, nil, nil), nil
}

// Close releases resources held by a store created by
// NewBlobStoreFromConfig. Stores without resources are left alone.
func Close(store box.BlobStore) error {
	return closeStore(store)
}

func closeStore(store box.BlobStore) error {
	switch s := store.(type) {
	case *SealedStore:
		return closeStore(s.inner)
	case *PrefixedStore:
		return closeStore(s.inner)
	case io.Closer:
		return s.Close()
	}
	return nil
}
