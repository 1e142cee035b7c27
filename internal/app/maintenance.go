package app

import (
	"context"
	"errors"
	"fmt"

	"boxstore/internal/box"
	"boxstore/internal/check"
	"boxstore/internal/database/sqlc"
	"boxstore/internal/housekeeping"
)

// Check verifies the store of an account, repairing it when fix is set.
func (a *BoxApp) Check(ctx context.Context, id uint32, fix bool) (*check.Result, error) {
	if fix {
		if err := a.persistOperation(ctx, fmt.Sprintf("%08x fix=true", id)); err != nil {
			return nil, err
		}
	}
	acct, err := a.openAccount(ctx, id)
	if err != nil {
		return nil, a.record(err)
	}

	res, err := check.New(acct, a.locker, a.spool, a.logger, check.Options{Fix: fix}).Run(ctx)
	if err != nil {
		return nil, a.record(err)
	}
	a.metrics.RecordCheck(id, res.ErrorsFound, a.clock.Now())
	if res.Info != nil {
		a.metrics.SetUsage(id, res.Info.BlocksUsed, res.Info.BlocksSoftLimit, res.Info.BlocksHardLimit)
	}
	return res, nil
}

// HousekeepResult pairs an account with the outcome of its housekeeping.
type HousekeepResult struct {
	AccountID uint32
	Result    *housekeeping.Result

	// Locked is set when the account was in use and was skipped.
	Locked bool
}

// Housekeep runs housekeeping on one account. interrupt may be nil.
func (a *BoxApp) Housekeep(ctx context.Context, id uint32, flags housekeeping.Flags, interrupt func() bool) (*housekeeping.Result, error) {
	if err := a.persistOperation(ctx, fmt.Sprintf("%08x flags=%#x", id, uint32(flags))); err != nil {
		return nil, err
	}
	res, err := a.housekeep(ctx, id, flags, interrupt)
	return res, a.record(err)
}

// HousekeepAll runs housekeeping on every account, skipping accounts that
// are in use. It stops early if the run is interrupted.
func (a *BoxApp) HousekeepAll(ctx context.Context, flags housekeeping.Flags, interrupt func() bool) ([]HousekeepResult, error) {
	if err := a.persistOperation(ctx, fmt.Sprintf("all flags=%#x", uint32(flags))); err != nil {
		return nil, err
	}
	accts, err := a.db.ListAccounts(ctx)
	if err != nil {
		return nil, a.record(err)
	}

	var results []HousekeepResult
	for _, row := range accts {
		id := uint32(row.ID)
		res, err := a.housekeep(ctx, id, flags, interrupt)
		var lockErr *box.AccountLockError
		if errors.As(err, &lockErr) {
			a.logger.Warn("account in use, skipping housekeeping", "account", fmt.Sprintf("%08x", id))
			results = append(results, HousekeepResult{AccountID: id, Locked: true})
			continue
		}
		if err != nil {
			return results, a.record(err)
		}
		results = append(results, HousekeepResult{AccountID: id, Result: res})
		if res.Interrupted {
			break
		}
	}
	return results, nil
}

func (a *BoxApp) housekeep(ctx context.Context, id uint32, flags housekeeping.Flags, interrupt func() bool) (*housekeeping.Result, error) {
	acct, err := a.openAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	opts := housekeeping.Options{
		Flags:        flags,
		PollInterval: a.cfg.Housekeeping.PollInterval,
		Interrupt:    interrupt,
	}
	res, err := housekeeping.New(acct, a.locker, a.spool, a.clock, a.logger, opts).Run(ctx)
	if err != nil {
		return nil, err
	}
	if !res.Skipped {
		a.metrics.RecordHousekeeping(id, res.FilesDeleted, res.BlocksFreed, res.DirectoriesDeleted, a.clock.Now())
	}
	if res.Info != nil {
		a.metrics.SetUsage(id, res.Info.BlocksUsed, res.Info.BlocksSoftLimit, res.Info.BlocksHardLimit)
	}
	return res, nil
}

// Backups returns the recorded sessions of an account, oldest first.
func (a *BoxApp) Backups(ctx context.Context, id uint32) ([]box.SessionInfo, error) {
	acct, err := a.openAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	list, err := box.LoadBackupsList(ctx, acct.Store)
	if err != nil {
		return nil, err
	}
	return list.Sessions(), nil
}

// GetHistory returns the most recent admin operations.
func (a *BoxApp) GetHistory(ctx context.Context, limit int) ([]*sqlc.AdminOperation, error) {
	return a.db.ListAdminOperations(ctx, limit)
}
