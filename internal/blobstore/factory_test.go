package blobstore

import (
	"context"
	"path/filepath"
	"testing"

	"boxstore/internal/config"
	"boxstore/internal/encryption"
)

func TestNewBlobStoreFromConfig(t *testing.T) {
	tmp := t.TempDir()

	tests := []struct {
		name       string
		cfg        config.BlobStoreConfig
		wantSealed bool
		wantErr    bool
	}{
		{name: "memory", cfg: config.BlobStoreConfig{Type: "memory"}},
		{name: "filesystem", cfg: config.BlobStoreConfig{Type: "filesystem", Root: filepath.Join(tmp, "store")}},
		{name: "filesystem without root", cfg: config.BlobStoreConfig{Type: "filesystem"}, wantErr: true},
		{name: "badger in memory", cfg: config.BlobStoreConfig{Type: "badger"}},
		{name: "s3 without bucket", cfg: config.BlobStoreConfig{Type: "s3"}, wantErr: true},
		{name: "compressed", cfg: config.BlobStoreConfig{Type: "memory", Compress: true}, wantSealed: true},
		{name: "encrypted", cfg: config.BlobStoreConfig{Type: "memory", Encrypt: true}, wantSealed: true},
		{name: "unknown", cfg: config.BlobStoreConfig{Type: "tape"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := encryption.NewTestEncryptor()
			s, err := NewBlobStoreFromConfig(context.Background(), tt.cfg, enc, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBlobStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer Close(s)

			_, sealed := s.(*SealedStore)
			if sealed != tt.wantSealed {
				t.Errorf("store sealed = %v, want %v", sealed, tt.wantSealed)
			}
			if s.BlockSize() != DefaultBlockSize {
				t.Errorf("BlockSize() = %d, want %d", s.BlockSize(), DefaultBlockSize)
			}
			if err := s.ValidateSetup(context.Background()); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}

func TestNewBlobStoreFromConfig_EncryptWithoutEncryptor(t *testing.T) {
	cfg := config.BlobStoreConfig{Type: "memory", Encrypt: true}
	if _, err := NewBlobStoreFromConfig(context.Background(), cfg, nil, nil); err == nil {
		t.Error("NewBlobStoreFromConfig() expected error without encryptor")
	}
}
