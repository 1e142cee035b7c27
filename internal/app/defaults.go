package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths are the locations a server uses before its config is read.
type Paths struct {
	ConfigPath string
	BaseDir    string
}

// System-wide locations, used when the server runs as root.
const (
	systemConfigPath = "/etc/boxstore/boxstore.toml"
	systemBaseDir    = "/var/lib/boxstore"
)

// GetDefaults returns where the config file and the account stores live.
// BOXSTORE_CONFIG_PATH and BOXSTORE_HOME override the defaults, which are
// system-wide for root and under the home directory for anyone else.
func GetDefaults() (Paths, error) {
	p := Paths{
		ConfigPath: os.Getenv("BOXSTORE_CONFIG_PATH"),
		BaseDir:    os.Getenv("BOXSTORE_HOME"),
	}
	if p.ConfigPath != "" && p.BaseDir != "" {
		return p, nil
	}

	var fallback Paths
	if os.Geteuid() == 0 {
		fallback = Paths{ConfigPath: systemConfigPath, BaseDir: systemBaseDir}
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("cannot determine home directory: %w", err)
		}
		fallback = userPaths(home)
	}
	if p.ConfigPath == "" {
		p.ConfigPath = fallback.ConfigPath
	}
	if p.BaseDir == "" {
		p.BaseDir = fallback.BaseDir
	}
	return p, nil
}

func userPaths(home string) Paths {
	return Paths{
		ConfigPath: filepath.Join(home, ".config", "boxstore.toml"),
		BaseDir:    filepath.Join(home, ".local", "share", "boxstore"),
	}
}
