package box

import "bytes"

// EntryFlags is the flag bitset of a directory entry.
type EntryFlags uint16

const (
	FlagFile       EntryFlags = 0x01
	FlagDir        EntryFlags = 0x02
	FlagDeleted    EntryFlags = 0x04
	FlagOldVersion EntryFlags = 0x08
	FlagRemoveASAP EntryFlags = 0x10

	// FlagsNone used as a filter means "no requirement".
	FlagsNone EntryFlags = 0
)

// Has reports whether all bits of m are set.
func (f EntryFlags) Has(m EntryFlags) bool { return f&m == m }

// Matches reports whether f contains every flag in mustBeSet and none in notSet.
func (f EntryFlags) Matches(mustBeSet, notSet EntryFlags) bool {
	return f&mustBeSet == mustBeSet && f&notSet == 0
}

// Entry is one object version listed in a directory.
type Entry struct {
	Name             []byte
	ModificationTime Time
	ObjectID         ObjectID
	SizeInBlocks     int64
	AttributesHash   uint64
	Flags            EntryFlags
	Attributes       []byte
	BackupTime       Time
	DeleteTime       Time

	// Patch chain links to sibling entries, 0 when absent.
	DependsNewer ObjectID
	DependsOlder ObjectID

	// MarkNumber groups versions for housekeeping ordering. Not persisted.
	MarkNumber int32
}

func (e *Entry) IsFile() bool    { return e.Flags&FlagFile != 0 }
func (e *Entry) IsDir() bool     { return e.Flags&FlagDir != 0 }
func (e *Entry) IsOld() bool     { return e.Flags&FlagOldVersion != 0 }
func (e *Entry) IsDeleted() bool { return e.Flags&FlagDeleted != 0 }

// IsCurrent reports whether the entry is neither old nor deleted.
func (e *Entry) IsCurrent() bool { return e.Flags&(FlagOldVersion|FlagDeleted) == 0 }

func (e *Entry) AddFlags(f EntryFlags)    { e.Flags |= f }
func (e *Entry) RemoveFlags(f EntryFlags) { e.Flags &^= f }

// Directory is a snapshot of one directory: its attributes and the ordered
// list of entries it owns. Entries are held by value; pointers returned by
// the lookup methods are valid until the next call that adds or removes
// entries.
type Directory struct {
	ObjectID          ObjectID
	ContainerID       ObjectID
	AttributesModTime Time
	Attributes        []byte
	Entries           []Entry

	// SizeInBlocks is the stored size of this directory, from the last load or save.
	SizeInBlocks int64
}

// NewDirectory creates an empty directory.
func NewDirectory(id, containerID ObjectID) *Directory {
	return &Directory{ObjectID: id, ContainerID: containerID}
}

// AddEntry appends an entry and returns a pointer to it.
func (d *Directory) AddEntry(e Entry) *Entry {
	d.Entries = append(d.Entries, e)
	return &d.Entries[len(d.Entries)-1]
}

// AddUnattachedObject inserts an entry before the first entry with a higher
// object ID, which is where a recovered object most likely belongs. Flags are
// corrected by a following CheckAndFix.
func (d *Directory) AddUnattachedObject(name []byte, modTime, backupTime, deleteTime Time, id ObjectID, sizeInBlocks int64, flags EntryFlags) {
	e := Entry{
		Name:             append([]byte(nil), name...),
		ModificationTime: modTime,
		ObjectID:         id,
		SizeInBlocks:     sizeInBlocks,
		Flags:            flags,
		BackupTime:       backupTime,
		DeleteTime:       deleteTime,
	}
	i := 0
	for ; i < len(d.Entries); i++ {
		if d.Entries[i].ObjectID > id {
			break
		}
	}
	d.Entries = append(d.Entries, Entry{})
	copy(d.Entries[i+1:], d.Entries[i:])
	d.Entries[i] = e
}

// FindEntryByID returns the entry for id, or nil.
func (d *Directory) FindEntryByID(id ObjectID) *Entry {
	for i := range d.Entries {
		if d.Entries[i].ObjectID == id {
			return &d.Entries[i]
		}
	}
	return nil
}

// FindCurrentEntry returns the current (not old, not deleted) entry with the
// given name that also matches mustBeSet, or nil.
func (d *Directory) FindCurrentEntry(name []byte, mustBeSet EntryFlags) *Entry {
	for i := range d.Entries {
		e := &d.Entries[i]
		if e.IsCurrent() && e.Flags.Has(mustBeSet) && bytes.Equal(e.Name, name) {
			return e
		}
	}
	return nil
}

// DeleteEntry removes the entry for id and reports whether it existed.
func (d *Directory) DeleteEntry(id ObjectID) bool {
	for i := range d.Entries {
		if d.Entries[i].ObjectID == id {
			d.Entries = append(d.Entries[:i], d.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// NameInUse reports whether any entry, in any state, has the given name.
func (d *Directory) NameInUse(name []byte) bool {
	for i := range d.Entries {
		if bytes.Equal(d.Entries[i].Name, name) {
			return true
		}
	}
	return false
}

// CheckAndFix repairs entry invariants in place and reports whether anything
// changed:
//   - self-referential dependency links are cleared
//   - an entry depending on a newer entry that does not exist is removed
//   - depends_older links are made symmetric, dangling ones cleared
//   - an entry flagged as both file and dir loses the file flag
//   - duplicate object IDs are removed, keeping the latest entry
//   - for each name, only the most recently added entry may be current;
//     earlier non-deleted entries are marked old
func (d *Directory) CheckAndFix() bool {
	changed := false

	for restart := true; restart; {
		restart = false
		for i := range d.Entries {
			e := &d.Entries[i]
			if e.DependsNewer == e.ObjectID {
				e.DependsNewer = 0
				changed = true
			}
			if e.DependsOlder == e.ObjectID {
				e.DependsOlder = 0
				changed = true
			}
			if e.DependsNewer == 0 {
				continue
			}
			newer := d.FindEntryByID(e.DependsNewer)
			if newer == nil {
				d.Entries = append(d.Entries[:i], d.Entries[i+1:]...)
				changed = true
				restart = true
				break
			}
			if newer.DependsOlder != e.ObjectID {
				newer.DependsOlder = e.ObjectID
				changed = true
			}
		}
	}

	for i := range d.Entries {
		e := &d.Entries[i]
		if e.DependsOlder != 0 && d.FindEntryByID(e.DependsOlder) == nil {
			e.DependsOlder = 0
			changed = true
		}
	}

	ids := make(map[ObjectID]bool, len(d.Entries))
	names := make(map[string]bool, len(d.Entries))
	kept := make([]Entry, 0, len(d.Entries))
	for i := len(d.Entries) - 1; i >= 0; i-- {
		e := d.Entries[i]
		if e.IsDir() && e.IsFile() {
			e.RemoveFlags(FlagFile)
			changed = true
		}
		if ids[e.ObjectID] {
			changed = true
			continue
		}
		ids[e.ObjectID] = true

		if names[string(e.Name)] {
			if e.IsCurrent() {
				e.AddFlags(FlagOldVersion)
				changed = true
			}
		} else {
			if e.IsOld() {
				e.RemoveFlags(FlagOldVersion)
				changed = true
			}
			names[string(e.Name)] = true
		}
		kept = append(kept, e)
	}
	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}
	d.Entries = kept

	return changed
}
