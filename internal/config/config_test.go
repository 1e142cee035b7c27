package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		ServerID: "test-server-abc",
		BaseDir:  "/srv/boxstore",
		LogDir:   "/srv/boxstore/log",
		LockDir:  "/srv/boxstore/locks",
		BlobStore: BlobStoreConfig{
			Type:       "s3",
			S3Bucket:   "backups",
			S3Prefix:   "accounts",
			S3Region:   "eu-west-1",
			S3Endpoint: "http://localhost:9000",
			BlockSize:  8192,
			Compress:   true,
			Encrypt:    true,
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/srv/boxstore/keys/boxstore.pub",
			PrivateKeyPath: "/srv/boxstore/keys/boxstore.key",
		},
		Database:     DatabaseConfig{Type: "sqlite", DataDir: "/srv/boxstore/db"},
		Spool:        SpoolConfig{Type: "memory", MaxFileSize: 2048},
		Store:        StoreConfig{DirectoryCacheSize: 16, StoreInfoSaveDelay: 4},
		Housekeeping: HousekeepingConfig{PollInterval: 8},
		Metrics:      MetricsConfig{TextfilePath: "/var/lib/node_exporter/boxstore.prom"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.ServerID != original.ServerID {
		t.Errorf("ServerID = %q, want %q", got.ServerID, original.ServerID)
	}
	if got.LockDir != original.LockDir {
		t.Errorf("LockDir = %q, want %q", got.LockDir, original.LockDir)
	}
	if got.BlobStore != original.BlobStore {
		t.Errorf("BlobStore = %+v, want %+v", got.BlobStore, original.BlobStore)
	}
	if got.Encryption != original.Encryption {
		t.Errorf("Encryption = %+v, want %+v", got.Encryption, original.Encryption)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
	if got.Spool.MaxFileSize != 2048 {
		t.Errorf("Spool.MaxFileSize = %d, want %d", got.Spool.MaxFileSize, 2048)
	}
	if got.Store != original.Store {
		t.Errorf("Store = %+v, want %+v", got.Store, original.Store)
	}
	if got.Housekeeping.PollInterval != 8 {
		t.Errorf("Housekeeping.PollInterval = %d, want 8", got.Housekeeping.PollInterval)
	}
	if got.Metrics.TextfilePath != original.Metrics.TextfilePath {
		t.Errorf("Metrics.TextfilePath = %q, want %q", got.Metrics.TextfilePath, original.Metrics.TextfilePath)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("server-1", "/data/boxstore")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ServerID", cfg.ServerID, "server-1"},
		{"BaseDir", cfg.BaseDir, "/data/boxstore"},
		{"LogDir", cfg.LogDir, "/data/boxstore/log"},
		{"LockDir", cfg.LockDir, "/data/boxstore/locks"},
		{"BlobStore.Type", cfg.BlobStore.Type, "filesystem"},
		{"BlobStore.Root", cfg.BlobStore.Root, "/data/boxstore/store"},
		{"Database.DataDir", cfg.Database.DataDir, "/data/boxstore/db"},
		{"Spool.Dir", cfg.Spool.Dir, "/data/boxstore/spool"},
		{"Encryption.PublicKeyPath", cfg.Encryption.PublicKeyPath, "/data/boxstore/keys/boxstore.pub"},
		{"Encryption.PrivateKeyPath", cfg.Encryption.PrivateKeyPath, "/data/boxstore/keys/boxstore.key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}

	if cfg.Store.DirectoryCacheSize != 256 {
		t.Errorf("Store.DirectoryCacheSize = %d, want 256", cfg.Store.DirectoryCacheSize)
	}
	if cfg.Store.StoreInfoSaveDelay != 96 {
		t.Errorf("Store.StoreInfoSaveDelay = %d, want 96", cfg.Store.StoreInfoSaveDelay)
	}
	if cfg.Housekeeping.PollInterval != 32 {
		t.Errorf("Housekeeping.PollInterval = %d, want 32", cfg.Housekeeping.PollInterval)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "boxstore.toml")
		cfg := NewConfig("s1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %o, want 600", perm)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "boxstore.toml")
		cfg := NewConfig("s1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "boxstore.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.ServerID != "read-test" {
			t.Errorf("ServerID = %q, want %q", got.ServerID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/boxstore.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
