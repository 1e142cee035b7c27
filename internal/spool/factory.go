package spool

import (
	"fmt"

	"boxstore/internal/box"
	"boxstore/internal/config"
)

// NewSpoolFromConfig creates a Spool implementation based on the config type.
func NewSpoolFromConfig(cfg config.SpoolConfig) (box.Spool, error) {
	switch cfg.Type {
	case "memory":
		return NewMemorySpool(cfg.MaxFileSize), nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem spool requires dir to be set")
		}
		return NewFileSystemSpool(cfg.Dir, cfg.MaxFileSize)
	default:
		return nil, fmt.Errorf("unknown spool type: %s", cfg.Type)
	}
}
