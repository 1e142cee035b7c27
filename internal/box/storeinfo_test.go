package box

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestStoreInfo_SerializeRoundTrip(t *testing.T) {
	si := NewStoreInfo(0x42, "alice", 100, 120)
	si.ClientStoreMarker = 99
	si.LastObjectIDUsed = 17
	si.BlocksUsed = 10
	si.BlocksInCurrentFiles = 4
	si.BlocksInDirectories = 6
	si.NumDirectories = 3
	si.VersionCountLimit = 5
	si.Options = OptionSnapshot
	si.DeletedDirectories = []ObjectID{4, 9}
	si.Enabled = false
	si.ExtraData = []byte("extra")

	var buf bytes.Buffer
	if err := si.Serialize(&buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	got, err := DeserializeStoreInfo(&buf)
	if err != nil {
		t.Fatalf("DeserializeStoreInfo() error = %v", err)
	}

	if diffs := si.Differences(got); len(diffs) != 0 {
		t.Errorf("Differences() = %v, want none", diffs)
	}
	if got.AccountID != 0x42 || got.AccountName != "alice" || got.ClientStoreMarker != 99 {
		t.Errorf("identity = %08x/%q/%d", got.AccountID, got.AccountName, got.ClientStoreMarker)
	}
	if got.VersionCountLimit != 5 || !got.IsSnapshotMode() {
		t.Errorf("VersionCountLimit = %d, Options = %d", got.VersionCountLimit, got.Options)
	}
	if len(got.DeletedDirectories) != 2 || got.DeletedDirectories[1] != 9 {
		t.Errorf("DeletedDirectories = %v, want [4 9]", got.DeletedDirectories)
	}
	if got.Enabled {
		t.Error("Enabled = true, want false")
	}
	if string(got.ExtraData) != "extra" {
		t.Errorf("ExtraData = %q, want %q", got.ExtraData, "extra")
	}
}

func TestDeserializeStoreInfo_LegacyFormat(t *testing.T) {
	si := NewStoreInfo(7, "n", 10, 20)
	si.VersionCountLimit = 3
	si.DeletedDirectories = []ObjectID{5}

	var buf bytes.Buffer
	if err := si.Serialize(&buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	// The legacy record has no version limit or options field.
	cur := buf.Bytes()
	fixed := 4 + 4 + 4 + len("n") + 8 + 8 + 11*8
	legacy := append(append([]byte(nil), cur[:fixed]...), cur[fixed+8:]...)
	binary.BigEndian.PutUint32(legacy, StoreInfoMagicV2)

	got, err := DeserializeStoreInfo(bytes.NewReader(legacy))
	if err != nil {
		t.Fatalf("DeserializeStoreInfo() error = %v", err)
	}
	if got.VersionCountLimit != 0 {
		t.Errorf("VersionCountLimit = %d, want 0", got.VersionCountLimit)
	}
	if got.BlocksHardLimit != 20 || len(got.DeletedDirectories) != 1 || !got.Enabled {
		t.Errorf("got %+v", got)
	}
}

func TestDeserializeStoreInfo_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"bad magic", []byte("XXXX\x00\x00\x00\x01")},
		{"truncated", []byte("INF4\x00\x00\x00\x01")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeStoreInfo(bytes.NewReader(tt.data))
			if !errors.Is(err, ErrBadStoreInfo) {
				t.Errorf("DeserializeStoreInfo() error = %v, want ErrBadStoreInfo", err)
			}
		})
	}
}

func TestStoreInfo_AccountEntry(t *testing.T) {
	tests := []struct {
		name  string
		flags EntryFlags
		check func(si *StoreInfo) bool
	}{
		{"current file", FlagFile, func(si *StoreInfo) bool { return si.BlocksInCurrentFiles == 3 && si.NumCurrentFiles == 1 }},
		{"old file", FlagFile | FlagOldVersion, func(si *StoreInfo) bool { return si.BlocksInOldFiles == 3 && si.NumOldFiles == 1 }},
		{"deleted file", FlagFile | FlagDeleted, func(si *StoreInfo) bool { return si.BlocksInDeletedFiles == 3 && si.NumDeletedFiles == 1 }},
		{"old and deleted counts as deleted", FlagFile | FlagOldVersion | FlagDeleted, func(si *StoreInfo) bool { return si.BlocksInDeletedFiles == 3 && si.NumOldFiles == 0 }},
		{"directory", FlagDir, func(si *StoreInfo) bool { return si.BlocksInDirectories == 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			si := NewStoreInfo(1, "a", 0, 0)
			si.AccountEntry(tt.flags, 3, 1)
			if !tt.check(si) {
				t.Errorf("AccountEntry(%#x) gave %+v", tt.flags, si)
			}
			if si.CategorySum() != 3 {
				t.Errorf("CategorySum() = %d, want 3", si.CategorySum())
			}
			if si.BlocksUsed != 0 {
				t.Errorf("BlocksUsed = %d, want 0", si.BlocksUsed)
			}
		})
	}
}

func TestStoreInfo_MoveEntry(t *testing.T) {
	si := NewStoreInfo(1, "a", 0, 0)
	si.AccountEntry(FlagFile, 5, 1)
	si.MoveEntry(FlagFile, FlagFile|FlagOldVersion, 5)

	if si.BlocksInCurrentFiles != 0 || si.NumCurrentFiles != 0 {
		t.Errorf("current = %d blocks/%d files, want 0/0", si.BlocksInCurrentFiles, si.NumCurrentFiles)
	}
	if si.BlocksInOldFiles != 5 || si.NumOldFiles != 1 {
		t.Errorf("old = %d blocks/%d files, want 5/1", si.BlocksInOldFiles, si.NumOldFiles)
	}
}

func TestStoreInfo_DeletedDirectories(t *testing.T) {
	si := NewStoreInfo(1, "a", 0, 0)
	si.AddDeletedDirectory(4)
	si.AddDeletedDirectory(4)
	si.AddDeletedDirectory(6)
	if len(si.DeletedDirectories) != 2 {
		t.Fatalf("DeletedDirectories = %v, want two entries", si.DeletedDirectories)
	}
	si.RemoveDeletedDirectory(4)
	if len(si.DeletedDirectories) != 1 || si.DeletedDirectories[0] != 6 {
		t.Errorf("DeletedDirectories = %v, want [6]", si.DeletedDirectories)
	}
}

func TestStoreInfo_AllocateObjectID(t *testing.T) {
	si := NewStoreInfo(1, "a", 0, 0)
	if got := si.AllocateObjectID(); got != RootDirectoryID+1 {
		t.Errorf("AllocateObjectID() = %d, want %d", got, RootDirectoryID+1)
	}
	if got := si.AllocateObjectID(); got != RootDirectoryID+2 {
		t.Errorf("AllocateObjectID() = %d, want %d", got, RootDirectoryID+2)
	}
}

func TestStoreInfo_CloneIsIndependent(t *testing.T) {
	si := NewStoreInfo(1, "a", 0, 0)
	si.DeletedDirectories = []ObjectID{3}
	c := si.Clone()
	c.DeletedDirectories[0] = 8
	c.BlocksUsed = 4
	if si.DeletedDirectories[0] != 3 || si.BlocksUsed != 0 {
		t.Error("Clone() shares state with the original")
	}
}
