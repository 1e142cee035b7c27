package database

import (
	"fmt"
	"path/filepath"

	"boxstore/internal/box"
	"boxstore/internal/config"
)

// NewDatabaseFromConfig opens the registry database described by cfg.
// In-memory databases are migrated immediately; file databases must be
// migrated by `config init` and are only checked by callers.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, serverID string, clock box.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		dbPath := filepath.Join(cfg.DataDir, serverID+".db")
		return NewSQLiteDatabase(dbPath, clock)
	case "memory":
		db, err := NewSQLiteDatabase(":memory:", clock)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
