package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func TestTestEncryptor_Setup(t *testing.T) {
	t.Parallel()

	e := NewUnconfiguredTestEncryptor()
	if e.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup, want false")
	}
	if err := e.Setup("any-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.setupCalled {
		t.Error("Setup() did not record that it was called")
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup, want true")
	}

	if err := e.Setup("again"); !errors.Is(err, ErrKeysExist) {
		t.Errorf("second Setup() error = %v, want ErrKeysExist", err)
	}
}

func TestTestEncryptor_EncryptDecrypt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewTestEncryptor()

			var encrypted bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &encrypted); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !bytes.HasPrefix(encrypted.Bytes(), testHeader) {
				t.Error("encrypted output does not start with test header")
			}

			dc, err := e.Unlock("any-passphrase")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}

			var decrypted bytes.Buffer
			if err := dc.Decrypt(bytes.NewReader(encrypted.Bytes()), &decrypted); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted.Bytes(), tt.input) {
				t.Errorf("round-trip failed: got %d bytes, want %d bytes", decrypted.Len(), len(tt.input))
			}
		})
	}
}

func TestTestDecryptionContext_BadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "invalid header", input: []byte("NOT_VALID_HEADER_data")},
		{name: "truncated header", input: []byte("BOX")},
		{name: "empty", input: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc := &TestDecryptionContext{}
			var out bytes.Buffer
			if err := dc.Decrypt(bytes.NewReader(tt.input), &out); err == nil {
				t.Error("Decrypt() expected error")
			}
		})
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		wantErr bool
	}{
		{name: "default is age", typ: ""},
		{name: "age", typ: "age"},
		{name: "test", typ: "test"},
		{name: "unknown", typ: "rot13", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestKeyConfig(t)
			cfg.Type = tt.typ
			e, err := NewEncryptorFromConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && e == nil {
				t.Error("NewEncryptorFromConfig() returned nil encryptor")
			}
		})
	}
}
