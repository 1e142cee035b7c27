package box

import (
	"context"
	"fmt"
)

// ContextOptions tunes a StoreContext.
type ContextOptions struct {
	// DirectoryCacheSize is the number of directories kept in memory.
	DirectoryCacheSize int

	// StoreInfoSaveDelay is the number of mutations between store info saves.
	StoreInfoSaveDelay int
}

// DefaultContextOptions returns the standard tuning.
func DefaultContextOptions() ContextOptions {
	return ContextOptions{
		DirectoryCacheSize: 256,
		StoreInfoSaveDelay: 96,
	}
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	ClientStoreMarker int64
	BlocksUsed        int64
	BlocksSoftLimit   int64
	BlocksHardLimit   int64
}

// StoreContext is the per-connection store engine. It is not safe for
// concurrent use; a connection executes its commands in order.
type StoreContext struct {
	accounts AccountResolver
	locker   Locker
	spool    Spool
	clock    Clock
	idgen    IDGenerator
	logger   Logger
	opts     ContextOptions

	// authenticatedID is the account the transport authenticated.
	authenticatedID uint32

	phase           Phase
	protocolVersion int
	readOnly        bool
	finished        bool

	account       *Account
	info          *StoreInfo
	unlock        func() error
	cache         *dirCache
	session       SessionInfo
	saveCountdown int
}

// NewStoreContext creates a context for a connection authenticated as
// authenticatedID.
func NewStoreContext(accounts AccountResolver, locker Locker, spool Spool, clock Clock, idgen IDGenerator, logger Logger, opts ContextOptions, authenticatedID uint32) *StoreContext {
	if opts.DirectoryCacheSize <= 0 {
		opts.DirectoryCacheSize = DefaultContextOptions().DirectoryCacheSize
	}
	if opts.StoreInfoSaveDelay <= 0 {
		opts.StoreInfoSaveDelay = DefaultContextOptions().StoreInfoSaveDelay
	}
	return &StoreContext{
		accounts:        accounts,
		locker:          locker,
		spool:           spool,
		clock:           clock,
		idgen:           idgen,
		logger:          logger,
		opts:            opts,
		authenticatedID: authenticatedID,
		phase:           PhaseVersion,
		protocolVersion: CurrentProtocolVersion,
		readOnly:        true,
		cache:           newDirCache(opts.DirectoryCacheSize),
		saveCountdown:   opts.StoreInfoSaveDelay,
	}
}

func (c *StoreContext) Phase() Phase { return c.phase }

func (c *StoreContext) ProtocolVersion() int { return c.protocolVersion }

// ReadOnly reports whether the session is without the write lock.
func (c *StoreContext) ReadOnly() bool { return c.readOnly }

// AccountID returns the logged in account, or 0 before login.
func (c *StoreContext) AccountID() uint32 {
	if c.account == nil {
		return 0
	}
	return c.account.ID
}

// Session returns the statistics of the current session.
func (c *StoreContext) Session() SessionInfo { return c.session }

// Version negotiates the protocol version.
func (c *StoreContext) Version(v int) error {
	if c.phase != PhaseVersion {
		return ErrNotInRightProtocolPhase
	}
	if v != ProtocolV1 && v != ProtocolV2 {
		return fmt.Errorf("%w: %d", ErrWrongVersion, v)
	}
	c.protocolVersion = v
	c.phase = PhaseLogin
	return nil
}

// Login opens the account. A write login takes the account lock; if the
// lock is held elsewhere the login fails and the session stays in the login
// phase so a read-only login can still be made.
func (c *StoreContext) Login(ctx context.Context, clientID uint32, readOnly bool) (*LoginResult, error) {
	if c.phase != PhaseLogin {
		return nil, ErrNotInRightProtocolPhase
	}
	if clientID != c.authenticatedID {
		c.logger.Warn("login with mismatched client id", "authenticated", c.authenticatedID, "requested", clientID)
		return nil, ErrBadLogin
	}

	acct, err := c.accounts.OpenAccount(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("opening account %08x: %w", clientID, err)
	}
	if acct == nil {
		return nil, ErrBadLogin
	}

	var unlock func() error
	if !readOnly {
		u, ok, err := c.locker.TryLock(clientID)
		if err != nil {
			return nil, fmt.Errorf("locking account %08x: %w", clientID, err)
		}
		if !ok {
			return nil, &AccountLockError{AccountID: clientID}
		}
		unlock = u
	}
	release := func() {
		if unlock != nil {
			unlock()
		}
	}

	info, err := LoadStoreInfo(ctx, acct.Store)
	if err != nil {
		release()
		return nil, fmt.Errorf("loading store info for account %08x: %w", clientID, err)
	}
	if info == nil {
		release()
		return nil, fmt.Errorf("account %08x has no store info", clientID)
	}
	if !info.Enabled {
		release()
		return nil, ErrAccountDisabled
	}

	c.account = acct
	c.info = info
	c.unlock = unlock
	c.readOnly = readOnly
	c.phase = PhaseCommands
	c.session = SessionInfo{StartTime: TimeFromGo(c.clock.Now())}

	c.logger.Info("login", "account", fmt.Sprintf("%08x", clientID), "read_only", readOnly)
	return &LoginResult{
		ClientStoreMarker: info.ClientStoreMarker,
		BlocksUsed:        info.BlocksUsed,
		BlocksSoftLimit:   info.BlocksSoftLimit,
		BlocksHardLimit:   info.BlocksHardLimit,
	}, nil
}

// Finish ends the session: it saves the store info, records the session in
// the backups list if it made changes and releases the account lock. It is
// accepted in any phase and may be called more than once.
func (c *StoreContext) Finish(ctx context.Context) error {
	if c.finished {
		return nil
	}
	c.finished = true
	if c.account == nil {
		return nil
	}
	defer c.releaseLock()

	if c.readOnly {
		return nil
	}

	if err := c.saveStoreInfo(ctx); err != nil {
		return err
	}
	c.session.EndTime = TimeFromGo(c.clock.Now())
	if c.session.HasChanges() {
		if err := AppendSession(ctx, c.account.Store, c.session); err != nil {
			return fmt.Errorf("recording session: %w", err)
		}
	}
	c.logger.Info("session finished",
		"account", fmt.Sprintf("%08x", c.account.ID),
		"added_files", c.session.AddedFiles,
		"added_file_blocks", c.session.AddedFileBlocks,
		"deleted_files", c.session.DeletedFiles,
		"added_dirs", c.session.AddedDirs,
		"deleted_dirs", c.session.DeletedDirs)
	return nil
}

func (c *StoreContext) releaseLock() {
	if c.unlock == nil {
		return
	}
	if err := c.unlock(); err != nil {
		c.logger.Error("releasing account lock", "error", err)
	}
	c.unlock = nil
}

// StoreInfo returns a copy of the account's current info.
func (c *StoreContext) StoreInfo() (*StoreInfo, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	return c.info.Clone(), nil
}

// BlockSize returns the allocation unit of the account's store.
func (c *StoreContext) BlockSize() int64 {
	if c.account == nil {
		return 0
	}
	return c.account.Store.BlockSize()
}

// SetClientStoreMarker replaces the client's cache validity token.
func (c *StoreContext) SetClientStoreMarker(ctx context.Context, marker int64) error {
	if err := c.requireWrite(); err != nil {
		return err
	}
	c.info.ClientStoreMarker = marker
	return c.mutated(ctx)
}

// ListBackups returns the account's session history.
func (c *StoreContext) ListBackups(ctx context.Context) ([]SessionInfo, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	b, err := LoadBackupsList(ctx, c.account.Store)
	if err != nil {
		return nil, err
	}
	return b.Sessions(), nil
}

func (c *StoreContext) requireLogin() error {
	if c.phase != PhaseCommands || c.finished {
		return ErrNotInRightProtocolPhase
	}
	return nil
}

func (c *StoreContext) requireWrite() error {
	if err := c.requireLogin(); err != nil {
		return err
	}
	if c.readOnly {
		return ErrSessionReadOnly
	}
	return nil
}

// mutated counts a change and saves the store info every StoreInfoSaveDelay changes.
func (c *StoreContext) mutated(ctx context.Context) error {
	c.saveCountdown--
	if c.saveCountdown > 0 {
		return nil
	}
	return c.saveStoreInfo(ctx)
}

func (c *StoreContext) saveStoreInfo(ctx context.Context) error {
	if err := SaveStoreInfo(ctx, c.account.Store, c.info); err != nil {
		return err
	}
	c.saveCountdown = c.opts.StoreInfoSaveDelay
	return nil
}

// allocateObjectID takes a fresh ID and saves the store info immediately so
// the ID is never handed out twice.
func (c *StoreContext) allocateObjectID(ctx context.Context) (ObjectID, error) {
	id := c.info.AllocateObjectID()
	if err := c.saveStoreInfo(ctx); err != nil {
		return 0, fmt.Errorf("allocating object id: %w", err)
	}
	return id, nil
}

// getDirectory returns the cached directory, loading it on a miss.
// A missing object, or one that is a file, is ErrDoesNotExist.
func (c *StoreContext) getDirectory(ctx context.Context, id ObjectID) (*Directory, error) {
	if d := c.cache.get(id); d != nil {
		return d, nil
	}

	d, err := LoadDirectory(ctx, c.account.Store, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: directory %d", ErrDoesNotExist, id)
	}
	c.cache.put(d)
	return d, nil
}

// saveDirectory writes d and charges its change in size to the account.
// The size recorded in the cached parent entry is updated to match.
func (c *StoreContext) saveDirectory(ctx context.Context, d *Directory) error {
	old := d.SizeInBlocks
	blocks, err := SaveDirectory(ctx, c.account.Store, d)
	if err != nil {
		c.cache.remove(d.ObjectID)
		return err
	}
	delta := blocks - old
	c.info.BlocksUsed += delta
	c.info.BlocksInDirectories += delta

	if delta != 0 && d.ObjectID != RootDirectoryID {
		if parent := c.cache.get(d.ContainerID); parent != nil {
			if e := parent.FindEntryByID(d.ObjectID); e != nil {
				e.SizeInBlocks = blocks
			}
		}
	}
	return c.mutated(ctx)
}
