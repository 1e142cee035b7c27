package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"boxstore/internal/box"
	"boxstore/internal/database/migrations"
	"boxstore/internal/database/sqlc"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase is the server's account registry. It records which
// accounts exist, where their blobs live in the shared store, the object
// reference counts of every account, and the log of admin operations.
type SQLiteDatabase struct {
	db      *sql.DB
	queries *sqlc.Queries
	path    string
	clock   box.Clock
}

// NewSQLiteDatabase opens a database connection. path can be a file path or
// ":memory:" for an in-memory database. A nil clock uses the real time.
func NewSQLiteDatabase(path string, clock box.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = box.RealClock{}
	}

	return &SQLiteDatabase{
		db:      db,
		queries: sqlc.New(db),
		path:    path,
		clock:   clock,
	}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Account operations

// CreateAccount registers a new account. Its blobs are kept under
// storePrefix in the shared blob store.
func (s *SQLiteDatabase) CreateAccount(ctx context.Context, id uint32, name, storePrefix string) (*sqlc.Account, error) {
	acct, err := s.queries.InsertAccount(ctx, sqlc.InsertAccountParams{
		ID:          int64(id),
		Name:        name,
		StorePrefix: storePrefix,
		CreatedAt:   s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	return &acct, nil
}

// FindAccount returns nil, nil if no account has this ID.
func (s *SQLiteDatabase) FindAccount(ctx context.Context, id uint32) (*sqlc.Account, error) {
	acct, err := s.queries.GetAccountByID(ctx, int64(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding account: %w", err)
	}
	return &acct, nil
}

// FindAccountByName returns nil, nil if no account has this name.
func (s *SQLiteDatabase) FindAccountByName(ctx context.Context, name string) (*sqlc.Account, error) {
	acct, err := s.queries.GetAccountByName(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding account by name: %w", err)
	}
	return &acct, nil
}

func (s *SQLiteDatabase) ListAccounts(ctx context.Context) ([]*sqlc.Account, error) {
	accts, err := s.queries.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	result := make([]*sqlc.Account, len(accts))
	for i := range accts {
		result[i] = &accts[i]
	}
	return result, nil
}

// NextAccountID returns one more than the highest registered account ID.
func (s *SQLiteDatabase) NextAccountID(ctx context.Context) (uint32, error) {
	max, err := s.queries.GetMaxAccountID(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting max account ID: %w", err)
	}
	if max >= 0xffffffff {
		return 0, fmt.Errorf("account ID space exhausted")
	}
	return uint32(max + 1), nil
}

func (s *SQLiteDatabase) RenameAccount(ctx context.Context, id uint32, name string) error {
	if err := s.queries.UpdateAccountName(ctx, sqlc.UpdateAccountNameParams{Name: name, ID: int64(id)}); err != nil {
		return fmt.Errorf("renaming account: %w", err)
	}
	return nil
}

// DeleteAccount removes the registry entry and, by cascade, the account's
// reference counts. The account's blobs are not touched.
func (s *SQLiteDatabase) DeleteAccount(ctx context.Context, id uint32) error {
	if err := s.queries.DeleteAccountByID(ctx, int64(id)); err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return nil
}

// RefCounts returns the persisted reference count table of one account.
func (s *SQLiteDatabase) RefCounts(accountID uint32) *RefCountTable {
	return &RefCountTable{db: s.db, queries: s.queries, accountID: int64(accountID)}
}

// Admin operation tracking

func (s *SQLiteDatabase) CreateAdminOperation(ctx context.Context, opID, operation, parameters string) (*sqlc.AdminOperation, error) {
	op, err := s.queries.InsertAdminOperation(ctx, sqlc.InsertAdminOperationParams{
		OpID:       opID,
		StartedAt:  s.clock.Now().UTC(),
		Operation:  operation,
		Parameters: parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("creating admin operation: %w", err)
	}
	return &op, nil
}

func (s *SQLiteDatabase) FinishAdminOperation(ctx context.Context, id int64, status string) error {
	err := s.queries.UpdateAdminOperationFinished(ctx, sqlc.UpdateAdminOperationFinishedParams{
		FinishedAt: sql.NullTime{Time: s.clock.Now().UTC(), Valid: true},
		Status:     status,
		ID:         id,
	})
	if err != nil {
		return fmt.Errorf("finishing admin operation: %w", err)
	}
	return nil
}

// ListAdminOperations returns the most recent operations, newest first.
func (s *SQLiteDatabase) ListAdminOperations(ctx context.Context, limit int) ([]*sqlc.AdminOperation, error) {
	ops, err := s.queries.GetAdminOperations(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing admin operations: %w", err)
	}

	result := make([]*sqlc.AdminOperation, len(ops))
	for i := range ops {
		result[i] = &ops[i]
	}
	return result, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate brings the schema up to date.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
