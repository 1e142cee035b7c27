package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for the boxstore server.
type Config struct {
	ServerID     string             `toml:"server_id"`
	BaseDir      string             `toml:"base_dir"`
	LogDir       string             `toml:"log_dir"`
	LockDir      string             `toml:"lock_dir"`
	BlobStore    BlobStoreConfig    `toml:"blob_store"`
	Database     DatabaseConfig     `toml:"database"`
	Encryption   EncryptionConfig   `toml:"encryption"`
	Spool        SpoolConfig        `toml:"spool"`
	Store        StoreConfig        `toml:"store"`
	Housekeeping HousekeepingConfig `toml:"housekeeping"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// BlobStoreConfig represents configuration for the durable blob store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobStoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "s3" or "badger"

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// Badger-specific fields (only used when Type == "badger")
	BadgerDir string `toml:"badger_dir,omitempty"`

	BlockSize int64 `toml:"block_size"` // usage accounting unit in bytes, defaults to 4096
	Compress  bool  `toml:"compress"`   // zstd-compress blobs at rest
	Encrypt   bool  `toml:"encrypt"`    // age-encrypt blobs at rest
}

// DatabaseConfig represents configuration for the account database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// EncryptionConfig holds paths to the age key pair used to seal blobs.
type EncryptionConfig struct {
	Type           string `toml:"type"`             // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SpoolConfig represents configuration for temporary upload files.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SpoolConfig struct {
	Type        string `toml:"type"`          // "memory" or "filesystem"
	Dir         string `toml:"dir,omitempty"` // only used for type=filesystem
	MaxFileSize int64  `toml:"max_file_size"` // max bytes per spool file; 0 means unlimited
}

// StoreConfig tunes the per-session store engine.
type StoreConfig struct {
	DirectoryCacheSize int `toml:"directory_cache_size"`  // defaults to 256
	StoreInfoSaveDelay int `toml:"store_info_save_delay"` // mutations between store info saves, defaults to 96
}

// HousekeepingConfig tunes the housekeeping engine.
type HousekeepingConfig struct {
	PollInterval int `toml:"poll_interval"` // deletions between interrupt checks, defaults to 32
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	TextfilePath string `toml:"textfile_path,omitempty"` // write metrics here after each admin command
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(serverID, baseDir string) *Config {
	return &Config{
		ServerID: serverID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LockDir:  filepath.Join(baseDir, "locks"),
		BlobStore: BlobStoreConfig{
			Type:      "filesystem",
			Root:      filepath.Join(baseDir, "store"),
			BlockSize: 4096,
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "boxstore.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "boxstore.key"),
		},
		Spool: SpoolConfig{Type: "filesystem", Dir: filepath.Join(baseDir, "spool")},
		Store: StoreConfig{
			DirectoryCacheSize: 256,
			StoreInfoSaveDelay: 96,
		},
		Housekeeping: HousekeepingConfig{PollInterval: 32},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold S3 credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
