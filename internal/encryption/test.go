package encryption

import (
	"bytes"
	"fmt"
	"io"

	"boxstore/internal/box"
)

// testHeader marks data sealed by TestEncryptor.
var testHeader = []byte("BOXSEAL\x00")

// TestEncryptor is a deterministic stand-in for tests. It prepends a fixed
// 8-byte header so sealed blobs differ from plaintext and strips it again on
// decrypt. No cryptography is involved.
type TestEncryptor struct {
	setupCalled bool
	configured  bool
}

var _ box.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a TestEncryptor that reports itself configured.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{configured: true}
}

// NewUnconfiguredTestEncryptor creates a TestEncryptor that reports no keys
// until Setup is called.
func NewUnconfiguredTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(string) error {
	if e.configured {
		return ErrKeysExist
	}
	e.setupCalled = true
	e.configured = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(string) (box.DecryptionContext, error) {
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return e.configured
}

// TestDecryptionContext strips the header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ box.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
