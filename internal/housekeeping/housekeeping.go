// Package housekeeping reclaims space in an account store by removing old
// and deleted file versions and the empty deleted directories they leave
// behind.
package housekeeping

import (
	"context"
	"fmt"

	"boxstore/internal/box"
)

// Flags select extra housekeeping actions.
type Flags uint32

const (
	// RemoveDeleted removes every deleted file version, whatever the usage.
	RemoveDeleted Flags = 1 << iota

	// RemoveOldVersions removes every old file version, whatever the usage.
	RemoveOldVersions

	// DisableAutoClean turns off deletion driven by the soft limit.
	DisableAutoClean

	// FixForSnapshotMode records a delete time on old versions that lack
	// one, so snapshot retention can tell when they were superseded.
	FixForSnapshotMode

	// ForceDeleteEmptyDirectories removes empty directories even when the
	// client has not deleted them.
	ForceDeleteEmptyDirectories

	// Force runs housekeeping on a disabled account.
	Force
)

// DefaultPollInterval is the number of deletions between interrupt checks.
const DefaultPollInterval = 32

// Options controls a housekeeping run.
type Options struct {
	Flags Flags

	// PollInterval is the number of deletions between interrupt checks and
	// intermediate saves of the store info. Zero uses DefaultPollInterval.
	PollInterval int

	// Interrupt, if set, is polled during the run. Returning true stops the
	// run after the deletion in progress. Cancelling the context has the
	// same effect.
	Interrupt func() bool
}

// Result summarizes a housekeeping run.
type Result struct {
	FilesDeleted       int64
	DirectoriesDeleted int64

	// BlocksFreed counts only blocks whose objects were removed from storage.
	BlocksFreed int64

	// MultiplyReferenced counts deleted entries whose object is still listed
	// elsewhere and so was kept.
	MultiplyReferenced int64

	// UsageCorrections lists the store info counters that were wrong.
	UsageCorrections []string

	// SnapshotFixes counts entries given a delete time by FixForSnapshotMode.
	SnapshotFixes int64

	Skipped     bool
	Interrupted bool

	Info *box.StoreInfo
}

// Housekeeper runs housekeeping on one account. Use a new Housekeeper for
// each run.
type Housekeeper struct {
	acct   *box.Account
	locker box.Locker
	spool  box.Spool
	clock  box.Clock
	logger box.Logger
	opts   Options

	info    *box.StoreInfo
	session box.SessionInfo
	res     *Result

	dirs        map[box.ObjectID]*box.Directory
	empty       []box.ObjectID
	candidates  []candidate
	snapshots   []box.Time
	deletions   int
	spoolSerial int
}

// New creates a housekeeper for acct.
func New(acct *box.Account, locker box.Locker, spool box.Spool, clock box.Clock, logger box.Logger, opts Options) *Housekeeper {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Housekeeper{
		acct:   acct,
		locker: locker,
		spool:  spool,
		clock:  clock,
		logger: logger,
		opts:   opts,
		res:    &Result{},
		dirs:   make(map[box.ObjectID]*box.Directory),
	}
}

// Run housekeeps the account. It takes the account lock and fails with an
// AccountLockError, without waiting, if another process holds it.
//
// Every deletion is committed as it happens. An interrupted run keeps the
// deletions made so far and saves the store info before returning.
func (h *Housekeeper) Run(ctx context.Context) (*Result, error) {
	unlock, ok, err := h.locker.TryLock(h.acct.ID)
	if err != nil {
		return nil, fmt.Errorf("locking account %08x: %w", h.acct.ID, err)
	}
	if !ok {
		return nil, &box.AccountLockError{AccountID: h.acct.ID}
	}
	defer func() {
		if err := unlock(); err != nil {
			h.logger.Error("releasing account lock", "error", err)
		}
	}()

	account := fmt.Sprintf("%08x", h.acct.ID)
	info, err := box.LoadStoreInfo(ctx, h.acct.Store)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("account %s has no store info", account)
	}
	h.info = info
	h.res.Info = info

	if !info.Enabled && h.opts.Flags&Force == 0 {
		h.logger.Info("account is disabled, skipping housekeeping", "account", account)
		h.res.Skipped = true
		return h.res, nil
	}

	h.session.StartTime = box.TimeFromGo(h.clock.Now())
	h.logger.Info("housekeeping account", "account", account, "flags", fmt.Sprintf("%#x", uint32(h.opts.Flags)))

	if info.IsSnapshotMode() {
		list, err := box.LoadBackupsList(ctx, h.acct.Store)
		if err != nil {
			return nil, err
		}
		h.snapshots = retainedSnapshots(list, info.VersionCountLimit)
	}

	if err := h.scan(ctx); err != nil {
		return nil, err
	}

	stopped, err := h.deleteFiles(ctx)
	if err != nil {
		return nil, err
	}
	if !stopped {
		if stopped, err = h.deleteEmptyDirectories(ctx); err != nil {
			return nil, err
		}
	}
	h.res.Interrupted = stopped

	if err := h.finish(ctx); err != nil {
		return nil, err
	}
	h.logger.Info("housekeeping finished",
		"account", account,
		"files_deleted", h.res.FilesDeleted,
		"blocks_freed", h.res.BlocksFreed,
		"dirs_deleted", h.res.DirectoriesDeleted,
		"multiply_referenced", h.res.MultiplyReferenced,
		"interrupted", h.res.Interrupted)
	return h.res, nil
}

// finish saves the store info and records the run in the backups list.
func (h *Housekeeper) finish(ctx context.Context) error {
	if err := box.SaveStoreInfo(ctx, h.acct.Store, h.info); err != nil {
		return err
	}
	h.session.EndTime = box.TimeFromGo(h.clock.Now())
	if h.session.HasChanges() {
		if err := box.AppendSession(ctx, h.acct.Store, h.session); err != nil {
			return fmt.Errorf("recording housekeeping session: %w", err)
		}
	}
	return nil
}

// step counts one committed deletion and reports whether the run should
// stop. The store info is saved at every poll.
func (h *Housekeeper) step(ctx context.Context) (bool, error) {
	h.deletions++
	if h.deletions%h.opts.PollInterval != 0 {
		return false, nil
	}
	if err := box.SaveStoreInfo(ctx, h.acct.Store, h.info); err != nil {
		return false, err
	}
	return h.interrupted(ctx), nil
}

func (h *Housekeeper) interrupted(ctx context.Context) bool {
	if ctx.Err() != nil {
		h.logger.Info("housekeeping cancelled", "error", ctx.Err())
		return true
	}
	if h.opts.Interrupt != nil && h.opts.Interrupt() {
		h.logger.Info("housekeeping interrupted")
		return true
	}
	return false
}

// directory returns the directory from this run's cache, loading it on
// first use. Returns nil, nil if it does not exist.
func (h *Housekeeper) directory(ctx context.Context, id box.ObjectID) (*box.Directory, error) {
	if d, ok := h.dirs[id]; ok {
		return d, nil
	}
	d, err := box.LoadDirectory(ctx, h.acct.Store, id)
	if err != nil {
		return nil, err
	}
	if d != nil {
		h.dirs[id] = d
	}
	return d, nil
}

// saveDirectory writes d and charges any change in its size.
func (h *Housekeeper) saveDirectory(ctx context.Context, d *box.Directory) error {
	before := d.SizeInBlocks
	after, err := box.SaveDirectory(ctx, h.acct.Store, d)
	if err != nil {
		return err
	}
	h.info.BlocksUsed += after - before
	h.info.BlocksInDirectories += after - before
	return nil
}

func (h *Housekeeper) spoolName() string {
	h.spoolSerial++
	return fmt.Sprintf("housekeep-%08x-%d", h.acct.ID, h.spoolSerial)
}
