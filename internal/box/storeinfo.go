package box

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// StoreInfo magics.
const (
	StoreInfoMagicV2 uint32 = 0x494e4632 // "INF2", no version limit or options
	StoreInfoMagicV4 uint32 = 0x494e4634 // "INF4"
)

// maxDeletedDirectories bounds the deleted directory list read from disk.
const maxDeletedDirectories = 1 << 20

// StoreInfo holds the persistent per-account counters.
//
// Block usage is split into four categories so that
// BlocksUsed == BlocksInCurrentFiles + BlocksInOldFiles + BlocksInDeletedFiles + BlocksInDirectories.
// A file entry flagged Deleted counts as deleted even if it is also old.
type StoreInfo struct {
	AccountID         uint32
	AccountName       string
	ClientStoreMarker int64
	LastObjectIDUsed  ObjectID

	BlocksUsed           int64
	BlocksInCurrentFiles int64
	BlocksInOldFiles     int64
	BlocksInDeletedFiles int64
	BlocksInDirectories  int64

	BlocksSoftLimit int64
	BlocksHardLimit int64

	NumCurrentFiles int64
	NumOldFiles     int64
	NumDeletedFiles int64
	NumDirectories  int64

	VersionCountLimit uint32
	Options           uint32

	DeletedDirectories []ObjectID
	Enabled            bool
	ExtraData          []byte
}

// NewStoreInfo creates the info for a fresh account. The root directory ID
// is already allocated.
func NewStoreInfo(accountID uint32, name string, softLimit, hardLimit int64) *StoreInfo {
	return &StoreInfo{
		AccountID:        accountID,
		AccountName:      name,
		LastObjectIDUsed: RootDirectoryID,
		BlocksSoftLimit:  softLimit,
		BlocksHardLimit:  hardLimit,
		Enabled:          true,
	}
}

// AllocateObjectID returns the next unused object ID.
func (si *StoreInfo) AllocateObjectID() ObjectID {
	si.LastObjectIDUsed++
	return si.LastObjectIDUsed
}

// IsSnapshotMode reports whether the account retains versions by backup time.
func (si *StoreInfo) IsSnapshotMode() bool {
	return si.Options&OptionSnapshot != 0
}

// AccountEntry adds (sign 1) or removes (sign -1) an entry's blocks and
// count from the category selected by its flags. BlocksUsed is not touched;
// it follows physical writes and deletions only.
func (si *StoreInfo) AccountEntry(flags EntryFlags, blocks int64, sign int64) {
	switch {
	case flags&FlagDir != 0:
		si.BlocksInDirectories += sign * blocks
	case flags&FlagDeleted != 0:
		si.BlocksInDeletedFiles += sign * blocks
		si.NumDeletedFiles += sign
	case flags&FlagOldVersion != 0:
		si.BlocksInOldFiles += sign * blocks
		si.NumOldFiles += sign
	default:
		si.BlocksInCurrentFiles += sign * blocks
		si.NumCurrentFiles += sign
	}
}

// MoveEntry moves a file entry's blocks between categories after a flag change.
func (si *StoreInfo) MoveEntry(from, to EntryFlags, blocks int64) {
	si.AccountEntry(from, blocks, -1)
	si.AccountEntry(to, blocks, 1)
}

// CategorySum returns the sum of the four block categories.
func (si *StoreInfo) CategorySum() int64 {
	return si.BlocksInCurrentFiles + si.BlocksInOldFiles + si.BlocksInDeletedFiles + si.BlocksInDirectories
}

// AddDeletedDirectory records id in the deleted directory list.
func (si *StoreInfo) AddDeletedDirectory(id ObjectID) {
	for _, d := range si.DeletedDirectories {
		if d == id {
			return
		}
	}
	si.DeletedDirectories = append(si.DeletedDirectories, id)
}

// RemoveDeletedDirectory drops id from the deleted directory list.
func (si *StoreInfo) RemoveDeletedDirectory(id ObjectID) {
	for i, d := range si.DeletedDirectories {
		if d == id {
			si.DeletedDirectories = append(si.DeletedDirectories[:i], si.DeletedDirectories[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy.
func (si *StoreInfo) Clone() *StoreInfo {
	c := *si
	c.DeletedDirectories = append([]ObjectID(nil), si.DeletedDirectories...)
	c.ExtraData = append([]byte(nil), si.ExtraData...)
	return &c
}

// Differences lists the counters that differ between si and other, in the
// form "name: old -> new".
func (si *StoreInfo) Differences(other *StoreInfo) []string {
	fields := []struct {
		name string
		a, b int64
	}{
		{"last_object_id_used", int64(si.LastObjectIDUsed), int64(other.LastObjectIDUsed)},
		{"blocks_used", si.BlocksUsed, other.BlocksUsed},
		{"blocks_in_current_files", si.BlocksInCurrentFiles, other.BlocksInCurrentFiles},
		{"blocks_in_old_files", si.BlocksInOldFiles, other.BlocksInOldFiles},
		{"blocks_in_deleted_files", si.BlocksInDeletedFiles, other.BlocksInDeletedFiles},
		{"blocks_in_directories", si.BlocksInDirectories, other.BlocksInDirectories},
		{"blocks_soft_limit", si.BlocksSoftLimit, other.BlocksSoftLimit},
		{"blocks_hard_limit", si.BlocksHardLimit, other.BlocksHardLimit},
		{"num_current_files", si.NumCurrentFiles, other.NumCurrentFiles},
		{"num_old_files", si.NumOldFiles, other.NumOldFiles},
		{"num_deleted_files", si.NumDeletedFiles, other.NumDeletedFiles},
		{"num_directories", si.NumDirectories, other.NumDirectories},
	}
	var out []string
	for _, f := range fields {
		if f.a != f.b {
			out = append(out, fmt.Sprintf("%s: %d -> %d", f.name, f.a, f.b))
		}
	}
	return out
}

// Serialize writes the info in the current format.
func (si *StoreInfo) Serialize(w io.Writer) error {
	ww := newWireWriter(w)
	ww.u32(StoreInfoMagicV4)
	ww.u32(si.AccountID)
	ww.block([]byte(si.AccountName))
	ww.i64(si.ClientStoreMarker)
	ww.i64(int64(si.LastObjectIDUsed))
	for _, v := range []int64{
		si.BlocksUsed, si.BlocksInCurrentFiles, si.BlocksInOldFiles, si.BlocksInDeletedFiles, si.BlocksInDirectories,
		si.BlocksSoftLimit, si.BlocksHardLimit,
		si.NumCurrentFiles, si.NumOldFiles, si.NumDeletedFiles, si.NumDirectories,
	} {
		ww.i64(v)
	}
	ww.u32(si.VersionCountLimit)
	ww.u32(si.Options)
	ww.u64(uint64(len(si.DeletedDirectories)))
	for _, id := range si.DeletedDirectories {
		ww.i64(int64(id))
	}
	if si.Enabled {
		ww.u8(1)
	} else {
		ww.u8(0)
	}
	ww.block(si.ExtraData)
	if ww.err != nil {
		return fmt.Errorf("writing store info: %w", ww.err)
	}
	return nil
}

// DeserializeStoreInfo reads an info record in the current or legacy format.
func DeserializeStoreInfo(r io.Reader) (*StoreInfo, error) {
	wr := newWireReader(r)
	magic := wr.u32()
	if wr.err == nil && magic != StoreInfoMagicV4 && magic != StoreInfoMagicV2 {
		return nil, fmt.Errorf("%w: unknown magic %#08x", ErrBadStoreInfo, magic)
	}

	si := &StoreInfo{AccountID: wr.u32()}
	si.AccountName = string(wr.block())
	si.ClientStoreMarker = wr.i64()
	si.LastObjectIDUsed = ObjectID(wr.i64())
	for _, p := range []*int64{
		&si.BlocksUsed, &si.BlocksInCurrentFiles, &si.BlocksInOldFiles, &si.BlocksInDeletedFiles, &si.BlocksInDirectories,
		&si.BlocksSoftLimit, &si.BlocksHardLimit,
		&si.NumCurrentFiles, &si.NumOldFiles, &si.NumDeletedFiles, &si.NumDirectories,
	} {
		*p = wr.i64()
	}
	if magic == StoreInfoMagicV4 {
		si.VersionCountLimit = wr.u32()
		si.Options = wr.u32()
	}
	n := wr.u64()
	if wr.err == nil && n > maxDeletedDirectories {
		return nil, fmt.Errorf("%w: %d deleted directories", ErrBadStoreInfo, n)
	}
	for i := uint64(0); i < n && wr.err == nil; i++ {
		si.DeletedDirectories = append(si.DeletedDirectories, ObjectID(wr.i64()))
	}
	si.Enabled = wr.u8() != 0
	si.ExtraData = wr.block()
	if wr.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadStoreInfo, wr.err)
	}
	return si, nil
}

// LoadStoreInfo reads the account's info from bs.
// Returns nil, nil if the account has no info blob.
func LoadStoreInfo(ctx context.Context, bs BlobStore) (*StoreInfo, error) {
	rc, err := bs.Get(ctx, StoreInfoKey)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening store info: %w", err)
	}
	defer rc.Close()

	si, err := DeserializeStoreInfo(rc)
	if err != nil {
		return nil, err
	}
	return si, nil
}

// SaveStoreInfo writes the account's info to bs.
func SaveStoreInfo(ctx context.Context, bs BlobStore, si *StoreInfo) error {
	var buf bytes.Buffer
	if err := si.Serialize(&buf); err != nil {
		return err
	}
	if _, err := bs.Put(ctx, StoreInfoKey, &buf); err != nil {
		return fmt.Errorf("saving store info: %w", err)
	}
	return nil
}
