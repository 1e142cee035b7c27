package database

import (
	"context"
	"fmt"

	"boxstore/internal/blobstore"
	"boxstore/internal/box"
)

// AccountRegistry opens accounts registered in the database against the
// shared blob store. Each account sees only the keys below its own store
// prefix.
type AccountRegistry struct {
	db     *SQLiteDatabase
	shared box.BlobStore
}

func NewAccountRegistry(db *SQLiteDatabase, shared box.BlobStore) *AccountRegistry {
	return &AccountRegistry{db: db, shared: shared}
}

// OpenAccount returns nil, nil for unregistered IDs.
func (r *AccountRegistry) OpenAccount(ctx context.Context, id uint32) (*box.Account, error) {
	row, err := r.db.FindAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return &box.Account{
		ID:        id,
		Name:      row.Name,
		Store:     blobstore.NewPrefixedStore(r.shared, row.StorePrefix),
		RefCounts: r.db.RefCounts(id),
	}, nil
}

// CreateAccount registers an account and initializes its store. The
// registration is undone if the store cannot be initialized.
func (r *AccountRegistry) CreateAccount(ctx context.Context, id uint32, name string, softLimit, hardLimit int64) (*box.StoreInfo, error) {
	if id == 0 {
		return nil, fmt.Errorf("account ID 0 is reserved")
	}
	existing, err := r.db.FindAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("account %08x already exists", id)
	}

	if _, err := r.db.CreateAccount(ctx, id, name, blobstore.AccountPrefix(id)); err != nil {
		return nil, err
	}

	acct, err := r.OpenAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	info, err := box.InitializeAccount(ctx, acct, softLimit, hardLimit)
	if err != nil {
		if delErr := r.db.DeleteAccount(ctx, id); delErr != nil {
			return nil, fmt.Errorf("%w (and removing registration failed: %v)", err, delErr)
		}
		return nil, err
	}
	return info, nil
}

// DeleteAccount removes every blob of the account and then its
// registration.
func (r *AccountRegistry) DeleteAccount(ctx context.Context, id uint32) error {
	acct, err := r.OpenAccount(ctx, id)
	if err != nil {
		return err
	}
	if acct == nil {
		return fmt.Errorf("account %08x does not exist", id)
	}

	keys, err := acct.Store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("listing blobs of account %08x: %w", id, err)
	}
	for _, k := range keys {
		if err := acct.Store.Delete(ctx, k); err != nil {
			return fmt.Errorf("deleting %s: %w", k, err)
		}
	}
	return r.db.DeleteAccount(ctx, id)
}

var _ box.AccountResolver = (*AccountRegistry)(nil)
