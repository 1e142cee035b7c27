package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"boxstore/internal/blobstore"
	"boxstore/internal/box"
	"boxstore/internal/config"
	"boxstore/internal/database"
	"boxstore/internal/encryption"
	"boxstore/internal/lock"
	"boxstore/internal/metrics"
	"boxstore/internal/spool"
)

// RegistryBackupKey is the shared blob store key holding the latest copy of
// the account registry database.
const RegistryBackupKey = "registry.db"

// Options adjusts how a BoxApp is built.
type Options struct {
	// Passphrase is called when the blob store is encrypted and the private
	// key must be unlocked.
	Passphrase func() (string, error)

	// Quiet sends log records to the log file only.
	Quiet bool
}

// BoxApp is the application layer between the CLI and the store engine.
// It constructs all dependencies from config, exposes the administrative
// operations, and manages the registry lifecycle on Close.
type BoxApp struct {
	cfg      *config.Config
	db       *database.SQLiteDatabase
	registry *database.AccountRegistry
	shared   box.BlobStore
	spool    box.Spool
	locker   box.Locker
	clock    box.Clock
	logger   box.Logger
	metrics  *metrics.Metrics
	op       *AdminOperation
	logFile  *os.File
}

// NewBoxApp creates a fully wired BoxApp from the given config.
// operation identifies the CLI command being run (e.g. "CreateAccount", "Check").
// The caller must call Close when done.
func NewBoxApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*BoxApp, error) {
	clock := box.RealClock{}
	opID := clock.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, opts.Quiet)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &BoxApp{
		cfg:     cfg,
		clock:   clock,
		logger:  &slogAdapter{l: logger},
		metrics: metrics.New(),
		op:      NewAdminOperation(opID, operation, ""),
		logFile: logFile,
	}
	if err := a.open(ctx, opts); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *BoxApp) open(ctx context.Context, opts Options) error {
	db, err := database.NewDatabaseFromConfig(a.cfg.Database, a.cfg.ServerID, a.clock)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db
	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	var enc box.Encryptor
	var dec box.DecryptionContext
	if a.cfg.BlobStore.Encrypt {
		enc, err = encryption.NewEncryptorFromConfig(a.cfg.Encryption)
		if err != nil {
			return fmt.Errorf("creating encryptor: %w", err)
		}
		if !enc.IsConfigured() {
			return fmt.Errorf("blob store is encrypted but no keys are set up: run 'boxstore keys init'")
		}
		if opts.Passphrase != nil {
			passphrase, err := opts.Passphrase()
			if err != nil {
				return fmt.Errorf("reading passphrase: %w", err)
			}
			if dec, err = enc.Unlock(passphrase); err != nil {
				return fmt.Errorf("unlocking private key: %w", err)
			}
		}
	}

	shared, err := blobstore.NewBlobStoreFromConfig(ctx, a.cfg.BlobStore, enc, dec)
	if err != nil {
		return fmt.Errorf("creating blob store: %w", err)
	}
	a.shared = shared
	if err := shared.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("validating blob store: %w", err)
	}

	sp, err := spool.NewSpoolFromConfig(a.cfg.Spool)
	if err != nil {
		return fmt.Errorf("creating spool: %w", err)
	}
	a.spool = sp

	locker, err := lock.NewFileLocker(a.cfg.LockDir)
	if err != nil {
		return fmt.Errorf("creating account locker: %w", err)
	}
	a.locker = locker

	a.registry = database.NewAccountRegistry(db, shared)
	return nil
}

// InitDatabase creates the registry database described by cfg and brings
// its schema up to date. It is run once by `config init`; NewBoxApp only
// checks the schema.
func InitDatabase(cfg *config.Config) error {
	if cfg.Database.Type == "sqlite" {
		if err := os.MkdirAll(cfg.Database.DataDir, 0700); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.ServerID, nil)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// InitKeys generates the age key pair used to seal an encrypted blob store.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc.IsConfigured() {
		return fmt.Errorf("keys are already set up")
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up keys: %w", err)
	}
	return nil
}

// ChangeKeyPassphrase re-wraps the blob store's private key.
func ChangeKeyPassphrase(cfg *config.Config, oldPassphrase, newPassphrase string) error {
	if err := encryption.ChangePassphrase(cfg.Encryption, oldPassphrase, newPassphrase); err != nil {
		return fmt.Errorf("changing key passphrase: %w", err)
	}
	return nil
}

// PublicKey returns the recipient the blob store seals to.
func PublicKey(cfg *config.Config) (string, error) {
	return encryption.PublicKey(cfg.Encryption)
}

// persistOperation saves the admin operation to the database, giving it an auto-increment ID.
// This should only be called for mutating commands.
func (a *BoxApp) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateAdminOperation(ctx, a.op.OpID, a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting admin operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// record marks the operation failed when err is set and returns err.
func (a *BoxApp) record(err error) error {
	if err != nil {
		a.op.Fail()
	}
	return err
}

// Logger returns the logger used by the app.
func (a *BoxApp) Logger() box.Logger { return a.logger }

// BlockSize returns the accounting unit of the blob store in bytes.
func (a *BoxApp) BlockSize() int64 { return a.shared.BlockSize() }

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, backs up the
// registry and uploads the copy to the blob store.
// For non-persisted operations: just closes the database.
func (a *BoxApp) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.op.Persisted() {
		ctx := context.Background()
		if err := a.db.FinishAdminOperation(ctx, a.op.ID, a.op.Status); err != nil {
			keep(fmt.Errorf("finishing admin operation: %w", err))
		}
		if err := a.backupRegistry(ctx); err != nil {
			keep(err)
		}
	}

	if path := a.cfg.Metrics.TextfilePath; path != "" {
		keep(a.metrics.WriteTextfile(path))
	}
	keep(a.closeResources())
	return firstErr
}

// backupRegistry snapshots the database to a temp file and uploads it.
func (a *BoxApp) backupRegistry(ctx context.Context) error {
	tmpDir, err := os.MkdirTemp("", "boxstore-registry-")
	if err != nil {
		return fmt.Errorf("creating temp dir for registry backup: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// VACUUM INTO refuses to overwrite an existing file.
	tmpPath := filepath.Join(tmpDir, RegistryBackupKey)
	if err := a.db.BackupTo(tmpPath); err != nil {
		return err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("opening registry backup for upload: %w", err)
	}
	defer f.Close()

	if _, err := a.shared.Put(ctx, RegistryBackupKey, f); err != nil {
		return fmt.Errorf("uploading registry backup: %w", err)
	}
	a.logger.Debug("registry backed up", "operation", a.op.ID)
	return nil
}

func (a *BoxApp) closeResources() error {
	var firstErr error
	if a.shared != nil {
		if err := blobstore.Close(a.shared); err != nil {
			firstErr = fmt.Errorf("closing blob store: %w", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
