package encryption

import (
	"fmt"

	"boxstore/internal/box"
	"boxstore/internal/config"
)

// NewEncryptorFromConfig returns the sealer for blobs written to a store
// with encryption on. The "test" type seals without keys and must never
// guard real account data.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (box.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// ageKeys returns the configured age key pair, failing for key-less types
// and for keys that have not been generated yet.
func ageKeys(cfg config.EncryptionConfig) (*AgeEncryptor, error) {
	enc, err := NewEncryptorFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	ae, ok := enc.(*AgeEncryptor)
	if !ok {
		return nil, fmt.Errorf("encryption type %q has no key pair", cfg.Type)
	}
	if !ae.IsConfigured() {
		return nil, fmt.Errorf("no key pair at %s: run keys init", cfg.PrivateKeyPath)
	}
	return ae, nil
}

// ChangePassphrase re-wraps the stored private key. Blobs already sealed
// stay readable since the key pair does not change.
func ChangePassphrase(cfg config.EncryptionConfig, oldPassphrase, newPassphrase string) error {
	ae, err := ageKeys(cfg)
	if err != nil {
		return err
	}
	return ae.ChangePassphrase(oldPassphrase, newPassphrase)
}

// PublicKey returns the recipient string blobs are sealed to.
func PublicKey(cfg config.EncryptionConfig) (string, error) {
	ae, err := ageKeys(cfg)
	if err != nil {
		return "", err
	}
	return ae.Recipient()
}
