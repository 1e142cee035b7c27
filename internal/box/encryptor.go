package box

import "io"

// Encryptor seals blobs at rest. Encryption uses the public key only;
// decryption requires unlocking the private key with a passphrase, which
// yields a DecryptionContext for the life of the process.
type Encryptor interface {
	// Setup performs one-time key generation and protects the private key
	// with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key. Returns an error if the passphrase is
	// incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory. The unlocked
// key is never written to disk.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
