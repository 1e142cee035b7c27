package box

import (
	"bytes"
	"fmt"
	"io"
	"sort"
)

// Directory format magics. DIR_ and DIR1 are read for compatibility; DIR_ is
// also written for protocol V1 clients, which do not understand entry times.
const (
	DirMagicV0 uint32 = 0x4449525f // "DIR_"
	DirMagicV1 uint32 = 0x44495231 // "DIR1"
	DirMagicV2 uint32 = 0x44495232 // "DIR2"
)

const dirOptionDependencyInfo uint32 = 0x1

// SerializeOptions controls which entries are written and in which format.
type SerializeOptions struct {
	ProtocolVersion int

	// Entries must have all FlagsMustBeSet and none of FlagsNotToBeSet.
	FlagsMustBeSet  EntryFlags
	FlagsNotToBeSet EntryFlags

	// SnapshotTime, when non-zero, lists the directory as it was at that
	// time: per name only the freshest version backed up at or before it.
	SnapshotTime Time

	StripAttributes     bool
	IncludeDependencies bool
}

// StorageOptions is the format used when saving a directory to the store.
func StorageOptions() SerializeOptions {
	return SerializeOptions{
		ProtocolVersion:     CurrentProtocolVersion,
		IncludeDependencies: true,
	}
}

// Serialize writes the directory to w.
func (d *Directory) Serialize(w io.Writer, opts SerializeOptions) error {
	if d.ObjectID == 0 || d.ContainerID == 0 {
		return fmt.Errorf("serializing directory %d: object and container IDs must be set", d.ObjectID)
	}

	entries := d.selectEntries(opts)

	magic := DirMagicV2
	if opts.ProtocolVersion == ProtocolV1 {
		magic = DirMagicV0
	}

	var options uint32
	if opts.IncludeDependencies {
		for _, e := range entries {
			if e.DependsNewer != 0 || e.DependsOlder != 0 {
				options |= dirOptionDependencyInfo
				break
			}
		}
	}

	ww := newWireWriter(w)
	ww.u32(magic)
	ww.u32(uint32(len(entries)))
	ww.i64(int64(d.ObjectID))
	ww.i64(int64(d.ContainerID))
	ww.i64(int64(d.AttributesModTime))
	ww.u32(options)
	ww.block(d.Attributes)

	for _, e := range entries {
		ww.i64(int64(e.ModificationTime))
		ww.i64(int64(e.ObjectID))
		ww.i64(e.SizeInBlocks)
		ww.u64(e.AttributesHash)
		ww.u16(uint16(e.Flags))
		ww.block(e.Name)
		if opts.StripAttributes {
			ww.block(nil)
		} else {
			ww.block(e.Attributes)
		}
		if magic != DirMagicV0 {
			ww.i64(int64(e.BackupTime))
			ww.i64(int64(e.DeleteTime))
		}
	}

	if options&dirOptionDependencyInfo != 0 {
		for _, e := range entries {
			ww.i64(int64(e.DependsNewer))
			ww.i64(int64(e.DependsOlder))
		}
	}

	if ww.err != nil {
		return fmt.Errorf("writing directory %d: %w", d.ObjectID, ww.err)
	}
	return nil
}

// Bytes serializes the directory into a new buffer.
func (d *Directory) Bytes(opts SerializeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Serialize(&buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// selectEntries applies the flag and snapshot filters and returns the
// emitted entries sorted by name, preserving insertion order within a name.
func (d *Directory) selectEntries(opts SerializeOptions) []*Entry {
	mustBeSet := opts.FlagsMustBeSet
	notSet := opts.FlagsNotToBeSet
	if opts.SnapshotTime != 0 {
		notSet &^= FlagOldVersion | FlagDeleted
	}

	var out []*Entry
	if opts.SnapshotTime == 0 {
		for i := range d.Entries {
			if d.Entries[i].Flags.Matches(mustBeSet, notSet) {
				out = append(out, &d.Entries[i])
			}
		}
	} else {
		best := make(map[string]*Entry)
		var order []string
		for i := range d.Entries {
			e := &d.Entries[i]
			if !e.Flags.Matches(mustBeSet, notSet) || e.BackupTime > opts.SnapshotTime {
				continue
			}
			key := string(e.Name)
			cur, ok := best[key]
			if !ok {
				order = append(order, key)
				best[key] = e
				continue
			}
			if e.BackupTime > cur.BackupTime ||
				(e.BackupTime == cur.BackupTime && e.ModificationTime > cur.ModificationTime) {
				best[key] = e
			}
		}
		for _, key := range order {
			out = append(out, best[key])
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return bytes.Compare(out[i].Name, out[j].Name) < 0
	})
	return out
}

// DeserializeDirectory reads a directory in any supported format.
func DeserializeDirectory(r io.Reader) (*Directory, error) {
	wr := newWireReader(r)
	magic := wr.u32()
	if wr.err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrBadDirectoryFormat, wr.err)
	}
	if magic != DirMagicV0 && magic != DirMagicV1 && magic != DirMagicV2 {
		return nil, fmt.Errorf("%w: unknown magic %#08x", ErrBadDirectoryFormat, magic)
	}

	count := wr.u32()
	d := &Directory{
		ObjectID:          ObjectID(wr.i64()),
		ContainerID:       ObjectID(wr.i64()),
		AttributesModTime: Time(wr.i64()),
	}
	options := wr.u32()
	d.Attributes = wr.block()
	if wr.err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrBadDirectoryFormat, wr.err)
	}

	d.Entries = make([]Entry, 0, min(int(count), 4096))
	for i := uint32(0); i < count; i++ {
		e := Entry{
			ModificationTime: Time(wr.i64()),
			ObjectID:         ObjectID(wr.i64()),
			SizeInBlocks:     wr.i64(),
			AttributesHash:   wr.u64(),
			Flags:            EntryFlags(wr.u16()),
		}
		e.Name = wr.block()
		e.Attributes = wr.block()
		if magic == DirMagicV1 || magic == DirMagicV2 {
			e.BackupTime = Time(wr.i64())
		}
		if magic == DirMagicV2 {
			e.DeleteTime = Time(wr.i64())
		}
		if wr.err != nil {
			return nil, fmt.Errorf("%w: reading entry %d: %v", ErrBadDirectoryFormat, i, wr.err)
		}
		d.Entries = append(d.Entries, e)
	}

	if options&dirOptionDependencyInfo != 0 {
		for i := range d.Entries {
			d.Entries[i].DependsNewer = ObjectID(wr.i64())
			d.Entries[i].DependsOlder = ObjectID(wr.i64())
		}
		if wr.err != nil {
			return nil, fmt.Errorf("%w: reading dependency info: %v", ErrBadDirectoryFormat, wr.err)
		}
	}

	return d, nil
}

// IsDirectoryMagic reports whether magic starts a directory object.
func IsDirectoryMagic(magic uint32) bool {
	return magic == DirMagicV0 || magic == DirMagicV1 || magic == DirMagicV2
}
