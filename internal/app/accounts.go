package app

import (
	"context"
	"fmt"

	"boxstore/internal/box"
	"boxstore/internal/database/sqlc"
)

// AccountInfo describes one account for display.
type AccountInfo struct {
	Account   *sqlc.Account
	Info      *box.StoreInfo
	BlockSize int64
}

// ListAccounts returns every registered account, lowest ID first.
func (a *BoxApp) ListAccounts(ctx context.Context) ([]*sqlc.Account, error) {
	return a.db.ListAccounts(ctx)
}

// CreateAccount registers an account and initializes its store. A zero id
// picks the next free ID.
func (a *BoxApp) CreateAccount(ctx context.Context, id uint32, name string, softLimit, hardLimit int64) (*box.StoreInfo, error) {
	if err := validateLimits(softLimit, hardLimit); err != nil {
		return nil, err
	}
	if id == 0 {
		next, err := a.db.NextAccountID(ctx)
		if err != nil {
			return nil, err
		}
		id = next
	}
	if err := a.persistOperation(ctx, fmt.Sprintf("%08x name=%s soft=%d hard=%d", id, name, softLimit, hardLimit)); err != nil {
		return nil, err
	}

	existing, err := a.db.FindAccountByName(ctx, name)
	if err != nil {
		return nil, a.record(err)
	}
	if existing != nil {
		return nil, a.record(fmt.Errorf("account name %q is already used by %08x", name, existing.ID))
	}

	info, err := a.registry.CreateAccount(ctx, id, name, softLimit, hardLimit)
	if err != nil {
		return nil, a.record(fmt.Errorf("creating account %08x: %w", id, err))
	}
	a.logger.Info("account created", "account", fmt.Sprintf("%08x", id), "name", name, "soft_limit", softLimit, "hard_limit", hardLimit)
	a.metrics.SetUsage(id, info.BlocksUsed, info.BlocksSoftLimit, info.BlocksHardLimit)
	return info, nil
}

// DeleteAccount removes an account's blobs and its registration. The
// account must not be in use.
func (a *BoxApp) DeleteAccount(ctx context.Context, id uint32) error {
	if err := a.persistOperation(ctx, fmt.Sprintf("%08x", id)); err != nil {
		return err
	}
	unlock, err := a.lockAccount(id)
	if err != nil {
		return a.record(err)
	}
	defer a.unlock(unlock)

	if err := a.registry.DeleteAccount(ctx, id); err != nil {
		return a.record(err)
	}
	a.logger.Info("account deleted", "account", fmt.Sprintf("%08x", id))
	return nil
}

// Info returns the registration and store info of an account.
func (a *BoxApp) Info(ctx context.Context, id uint32) (*AccountInfo, error) {
	row, err := a.db.FindAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("account %08x does not exist", id)
	}
	acct, err := a.openAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	info, err := box.LoadStoreInfo(ctx, acct.Store)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("account %08x has no store info: run a check with --fix", id)
	}
	a.metrics.SetUsage(id, info.BlocksUsed, info.BlocksSoftLimit, info.BlocksHardLimit)
	return &AccountInfo{Account: row, Info: info, BlockSize: acct.Store.BlockSize()}, nil
}

// SetEnabled enables or disables logins to an account.
func (a *BoxApp) SetEnabled(ctx context.Context, id uint32, enabled bool) error {
	return a.updateStoreInfo(ctx, id, fmt.Sprintf("%08x enabled=%t", id, enabled), func(info *box.StoreInfo) error {
		info.Enabled = enabled
		return nil
	})
}

// SetLimits changes the soft and hard limits of an account, in blocks.
func (a *BoxApp) SetLimits(ctx context.Context, id uint32, softLimit, hardLimit int64) error {
	if err := validateLimits(softLimit, hardLimit); err != nil {
		return err
	}
	return a.updateStoreInfo(ctx, id, fmt.Sprintf("%08x soft=%d hard=%d", id, softLimit, hardLimit), func(info *box.StoreInfo) error {
		info.BlocksSoftLimit = softLimit
		info.BlocksHardLimit = hardLimit
		return nil
	})
}

// AccountOptions are the retention settings of an account. Nil fields are
// left unchanged.
type AccountOptions struct {
	VersionCountLimit *uint32
	Snapshot          *bool
}

// SetOptions changes the retention settings of an account.
func (a *BoxApp) SetOptions(ctx context.Context, id uint32, opts AccountOptions) error {
	params := fmt.Sprintf("%08x", id)
	if opts.VersionCountLimit != nil {
		params += fmt.Sprintf(" versions=%d", *opts.VersionCountLimit)
	}
	if opts.Snapshot != nil {
		params += fmt.Sprintf(" snapshot=%t", *opts.Snapshot)
	}
	return a.updateStoreInfo(ctx, id, params, func(info *box.StoreInfo) error {
		if opts.VersionCountLimit != nil {
			info.VersionCountLimit = *opts.VersionCountLimit
		}
		if opts.Snapshot != nil {
			if *opts.Snapshot {
				info.Options |= box.OptionSnapshot
			} else {
				info.Options &^= box.OptionSnapshot
			}
		}
		return nil
	})
}

// SetName renames an account in both the registry and its store info.
func (a *BoxApp) SetName(ctx context.Context, id uint32, name string) error {
	return a.updateStoreInfo(ctx, id, fmt.Sprintf("%08x name=%s", id, name), func(info *box.StoreInfo) error {
		existing, err := a.db.FindAccountByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil && uint32(existing.ID) != id {
			return fmt.Errorf("account name %q is already used by %08x", name, existing.ID)
		}
		if err := a.db.RenameAccount(ctx, id, name); err != nil {
			return err
		}
		info.AccountName = name
		return nil
	})
}

// DiscardUpload removes the partial upload kept for resuming. It reports
// false if the account had none.
func (a *BoxApp) DiscardUpload(ctx context.Context, id uint32) (bool, error) {
	if err := a.persistOperation(ctx, fmt.Sprintf("%08x", id)); err != nil {
		return false, err
	}
	acct, err := a.openAccount(ctx, id)
	if err != nil {
		return false, a.record(err)
	}
	unlock, err := a.lockAccount(id)
	if err != nil {
		return false, a.record(err)
	}
	defer a.unlock(unlock)

	ri, err := box.LoadResumeInfo(ctx, acct.Store)
	if err != nil {
		return false, a.record(err)
	}
	if ri == nil {
		return false, nil
	}
	if err := a.spool.Remove(ri.SpoolName); err != nil {
		return false, a.record(fmt.Errorf("removing partial upload %s: %w", ri.SpoolName, err))
	}
	if err := box.ClearResumeInfo(ctx, acct.Store); err != nil {
		return false, a.record(err)
	}
	a.logger.Info("partial upload discarded", "account", fmt.Sprintf("%08x", id), "spool_file", ri.SpoolName)
	return true, nil
}

// updateStoreInfo applies fn to the store info of an account under its
// write lock and saves the result.
func (a *BoxApp) updateStoreInfo(ctx context.Context, id uint32, params string, fn func(*box.StoreInfo) error) error {
	if err := a.persistOperation(ctx, params); err != nil {
		return err
	}
	acct, err := a.openAccount(ctx, id)
	if err != nil {
		return a.record(err)
	}
	unlock, err := a.lockAccount(id)
	if err != nil {
		return a.record(err)
	}
	defer a.unlock(unlock)

	info, err := box.LoadStoreInfo(ctx, acct.Store)
	if err != nil {
		return a.record(err)
	}
	if info == nil {
		return a.record(fmt.Errorf("account %08x has no store info: run a check with --fix", id))
	}
	if err := fn(info); err != nil {
		return a.record(err)
	}
	if err := box.SaveStoreInfo(ctx, acct.Store, info); err != nil {
		return a.record(err)
	}
	a.logger.Info("account updated", "account", fmt.Sprintf("%08x", id), "change", params)
	a.metrics.SetUsage(id, info.BlocksUsed, info.BlocksSoftLimit, info.BlocksHardLimit)
	return nil
}

func (a *BoxApp) openAccount(ctx context.Context, id uint32) (*box.Account, error) {
	acct, err := a.registry.OpenAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account %08x does not exist", id)
	}
	return acct, nil
}

// lockAccount takes the account's write lock, failing with an
// AccountLockError if a session or another admin command holds it.
func (a *BoxApp) lockAccount(id uint32) (func() error, error) {
	unlock, ok, err := a.locker.TryLock(id)
	if err != nil {
		return nil, fmt.Errorf("locking account %08x: %w", id, err)
	}
	if !ok {
		return nil, &box.AccountLockError{AccountID: id}
	}
	return unlock, nil
}

func (a *BoxApp) unlock(unlock func() error) {
	if err := unlock(); err != nil {
		a.logger.Error("releasing account lock", "error", err)
	}
}

func validateLimits(softLimit, hardLimit int64) error {
	if softLimit < 0 || hardLimit < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if softLimit > hardLimit {
		return fmt.Errorf("soft limit (%d blocks) must not exceed hard limit (%d blocks)", softLimit, hardLimit)
	}
	return nil
}
