package box

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// ResumeInfo records a partially received upload so that a later session can
// continue it.
type ResumeInfo struct {
	AttributesHash uint64
	SpoolName      string
}

func (ri *ResumeInfo) Serialize(w io.Writer) error {
	ww := newWireWriter(w)
	ww.u64(ri.AttributesHash)
	ww.block([]byte(ri.SpoolName))
	return ww.err
}

func DeserializeResumeInfo(r io.Reader) (*ResumeInfo, error) {
	wr := newWireReader(r)
	ri := &ResumeInfo{AttributesHash: wr.u64()}
	ri.SpoolName = string(wr.block())
	if wr.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResumeInfo, wr.err)
	}
	if ri.SpoolName == "" {
		return nil, fmt.Errorf("%w: empty spool name", ErrBadResumeInfo)
	}
	return ri, nil
}

// LoadResumeInfo returns the account's resume record, or nil, nil if there
// is none.
func LoadResumeInfo(ctx context.Context, bs BlobStore) (*ResumeInfo, error) {
	rc, err := bs.Get(ctx, ResumeInfoKey)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening resume info: %w", err)
	}
	defer rc.Close()
	return DeserializeResumeInfo(rc)
}

func SaveResumeInfo(ctx context.Context, bs BlobStore, ri *ResumeInfo) error {
	var buf bytes.Buffer
	if err := ri.Serialize(&buf); err != nil {
		return fmt.Errorf("encoding resume info: %w", err)
	}
	if _, err := bs.Put(ctx, ResumeInfoKey, &buf); err != nil {
		return fmt.Errorf("saving resume info: %w", err)
	}
	return nil
}

func ClearResumeInfo(ctx context.Context, bs BlobStore) error {
	if err := bs.Delete(ctx, ResumeInfoKey); err != nil {
		return fmt.Errorf("clearing resume info: %w", err)
	}
	return nil
}
