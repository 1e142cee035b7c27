package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"

	"boxstore/internal/box"
)

// BadgerStore keeps blobs as values in an embedded Badger database. Each Put
// is a single transaction, so blobs are replaced atomically. Values are held
// in memory while being written or read.
type BadgerStore struct {
	db        *badger.DB
	blockSize int64
}

// NewBadgerStore opens (or creates) the database in dir. An empty dir opens
// an in-memory database.
func NewBadgerStore(dir string, blockSize int64) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &BadgerStore{db: db, blockSize: blockSize}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read blob: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store %s: %w", key, err)
	}
	return box.BlocksForSize(int64(len(data)), s.blockSize), nil
}

func (s *BadgerStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", box.ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *BadgerStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) valueSize(key string) (int64, error) {
	var size int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		size = item.ValueSize()
		return nil
	})
	return size, err
}

func (s *BadgerStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := s.valueSize(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

func (s *BadgerStore) SizeInBlocks(_ context.Context, key string) (int64, error) {
	size, err := s.valueSize(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, fmt.Errorf("%w: %s", box.ErrBlobNotFound, key)
		}
		return 0, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return box.BlocksForSize(size, s.blockSize), nil
}

// List returns keys in lexical order, which is Badger's iteration order.
func (s *BadgerStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return keys, nil
}

func (s *BadgerStore) BlockSize() int64 { return s.blockSize }

func (s *BadgerStore) ValidateSetup(context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("badger database is closed")
	}
	return nil
}

// Compile-time check that BadgerStore implements box.BlobStore interface
var _ box.BlobStore = (*BadgerStore)(nil)
