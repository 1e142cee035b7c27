package box

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// Account is an opened account store.
type Account struct {
	ID        uint32
	Name      string
	Store     BlobStore
	RefCounts RefCountTable
}

// AccountResolver opens accounts by ID.
type AccountResolver interface {
	// OpenAccount returns nil, nil if the account does not exist.
	OpenAccount(ctx context.Context, id uint32) (*Account, error)
}

// InitializeAccount writes the blank root directory, the info record and the
// root's reference for a new account. It fails if the store already holds
// an info record.
func InitializeAccount(ctx context.Context, acct *Account, softLimit, hardLimit int64) (*StoreInfo, error) {
	exists, err := acct.Store.Exists(ctx, StoreInfoKey)
	if err != nil {
		return nil, fmt.Errorf("checking for existing store info: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("account %08x already has a store", acct.ID)
	}

	info := NewStoreInfo(acct.ID, acct.Name, softLimit, hardLimit)
	root := NewDirectory(RootDirectoryID, RootDirectoryID)
	blocks, err := SaveDirectory(ctx, acct.Store, root)
	if err != nil {
		return nil, err
	}
	info.BlocksUsed = blocks
	info.BlocksInDirectories = blocks
	info.NumDirectories = 1

	if err := acct.RefCounts.ReplaceAll(ctx, map[ObjectID]int64{RootDirectoryID: 1}); err != nil {
		return nil, fmt.Errorf("initializing reference counts: %w", err)
	}
	if err := SaveStoreInfo(ctx, acct.Store, info); err != nil {
		return nil, err
	}
	return info, nil
}

// LoadDirectory reads directory id from bs and records its stored size.
// Returns nil, nil if there is no such object, and ErrDoesNotExist if the
// object is a file.
func LoadDirectory(ctx context.Context, bs BlobStore, id ObjectID) (*Directory, error) {
	key := ObjectKey(id)
	rc, err := bs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening directory %d: %w", id, err)
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	if head, err := br.Peek(4); err == nil && binary.BigEndian.Uint32(head) == FileMagic {
		return nil, fmt.Errorf("%w: object %d is a file", ErrDoesNotExist, id)
	}
	d, err := DeserializeDirectory(br)
	if err != nil {
		return nil, fmt.Errorf("reading directory %d: %w", id, err)
	}
	if d.ObjectID != id {
		return nil, fmt.Errorf("%w: object %d claims to be directory %d", ErrBadDirectoryFormat, id, d.ObjectID)
	}
	size, err := bs.SizeInBlocks(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("sizing directory %d: %w", id, err)
	}
	d.SizeInBlocks = size
	return d, nil
}

// SaveDirectory writes d in storage format, updates d.SizeInBlocks and
// returns the new size.
func SaveDirectory(ctx context.Context, bs BlobStore, d *Directory) (int64, error) {
	data, err := d.Bytes(StorageOptions())
	if err != nil {
		return 0, err
	}
	blocks, err := bs.Put(ctx, ObjectKey(d.ObjectID), bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("saving directory %d: %w", d.ObjectID, err)
	}
	d.SizeInBlocks = blocks
	return blocks, nil
}
