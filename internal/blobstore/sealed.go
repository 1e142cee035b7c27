package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"boxstore/internal/box"
)

// ErrStoreLocked is returned when reading from an encrypted store whose
// private key has not been unlocked.
var ErrStoreLocked = errors.New("blob store is locked: private key not unlocked")

// SealedStore compresses and/or encrypts blobs before handing them to the
// wrapped store: compress, then encrypt. Usage is reported for the sealed
// bytes, which is what the wrapped store holds.
type SealedStore struct {
	inner     box.BlobStore
	compress  bool
	encryptor box.Encryptor
	decryptor box.DecryptionContext

	encoderPool sync.Pool
	decoderPool sync.Pool
}

// NewSealedStore wraps inner. encryptor may be nil for compression only;
// decryptor may be nil for a write-only store.
func NewSealedStore(inner box.BlobStore, compress bool, encryptor box.Encryptor, decryptor box.DecryptionContext) *SealedStore {
	s := &SealedStore{
		inner:     inner,
		compress:  compress,
		encryptor: encryptor,
		decryptor: decryptor,
	}
	s.encoderPool = sync.Pool{
		New: func() interface{} {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	s.decoderPool = sync.Pool{
		New: func() interface{} {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
	return s
}

func (s *SealedStore) seal(data []byte) ([]byte, error) {
	if s.compress {
		enc := s.encoderPool.Get().(*zstd.Encoder)
		data = enc.EncodeAll(data, nil)
		s.encoderPool.Put(enc)
	}
	if s.encryptor != nil {
		var buf bytes.Buffer
		if err := s.encryptor.Encrypt(bytes.NewReader(data), &buf); err != nil {
			return nil, fmt.Errorf("encrypting blob: %w", err)
		}
		data = buf.Bytes()
	}
	return data, nil
}

func (s *SealedStore) unseal(data []byte) ([]byte, error) {
	if s.encryptor != nil {
		if s.decryptor == nil {
			return nil, ErrStoreLocked
		}
		var buf bytes.Buffer
		if err := s.decryptor.Decrypt(bytes.NewReader(data), &buf); err != nil {
			return nil, fmt.Errorf("decrypting blob: %w", err)
		}
		data = buf.Bytes()
	}
	if s.compress {
		dec := s.decoderPool.Get().(*zstd.Decoder)
		defer s.decoderPool.Put(dec)
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing blob: %w", err)
		}
		data = out
	}
	return data, nil
}

func (s *SealedStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read blob: %w", err)
	}
	sealed, err := s.seal(data)
	if err != nil {
		return 0, err
	}
	return s.inner.Put(ctx, key, bytes.NewReader(sealed))
}

func (s *SealedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	plain, err := s.unseal(data)
	if err != nil {
		return nil, fmt.Errorf("unsealing %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(plain)), nil
}

func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *SealedStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, key)
}

func (s *SealedStore) SizeInBlocks(ctx context.Context, key string) (int64, error) {
	return s.inner.SizeInBlocks(ctx, key)
}

func (s *SealedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *SealedStore) BlockSize() int64 { return s.inner.BlockSize() }

func (s *SealedStore) ValidateSetup(ctx context.Context) error {
	if s.encryptor != nil && !s.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys are not configured")
	}
	return s.inner.ValidateSetup(ctx)
}

var _ box.BlobStore = (*SealedStore)(nil)
