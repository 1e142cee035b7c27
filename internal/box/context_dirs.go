package box

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// MoveRequest describes a MoveObject call.
type MoveRequest struct {
	ObjectID             ObjectID
	FromDir              ObjectID
	ToDir                ObjectID
	NewName              []byte
	MoveAllWithSameName  bool
	AllowMoveOverDeleted bool
}

// ObjectName is the path of an object, root first, plus details of the
// object's own entry.
type ObjectName struct {
	Elements         [][]byte
	ModificationTime Time
	AttributesHash   uint64
	Flags            EntryFlags
	BackupTime       Time
	DeleteTime       Time
}

// ListDirectory serializes a directory for the client. The session's
// protocol version selects the format.
func (c *StoreContext) ListDirectory(ctx context.Context, id ObjectID, opts SerializeOptions) (io.Reader, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	dir, err := c.getDirectory(ctx, id)
	if err != nil {
		return nil, err
	}
	opts.ProtocolVersion = c.protocolVersion
	data, err := dir.Bytes(opts)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// AddDirectory creates a directory. If the parent already has a current
// directory of that name, its ID is returned with alreadyExists set and
// nothing changes.
func (c *StoreContext) AddDirectory(ctx context.Context, parentID ObjectID, name, attrs []byte, attrModTime, modTime Time) (id ObjectID, alreadyExists bool, err error) {
	if err := c.requireWrite(); err != nil {
		return 0, false, err
	}
	parent, err := c.getDirectory(ctx, parentID)
	if err != nil {
		return 0, false, err
	}
	c.cache.pin(parentID)
	defer c.cache.unpin(parentID)

	if e := parent.FindCurrentEntry(name, FlagDir); e != nil {
		return e.ObjectID, true, nil
	}

	id, err = c.allocateObjectID(ctx)
	if err != nil {
		return 0, false, err
	}

	nd := NewDirectory(id, parentID)
	nd.Attributes = append([]byte(nil), attrs...)
	nd.AttributesModTime = attrModTime
	blocks, err := SaveDirectory(ctx, c.account.Store, nd)
	if err != nil {
		return 0, false, err
	}

	parent.AddEntry(Entry{
		Name:             append([]byte(nil), name...),
		ModificationTime: modTime,
		ObjectID:         id,
		SizeInBlocks:     blocks,
		Flags:            FlagDir,
		BackupTime:       TimeFromGo(c.clock.Now()),
	})
	if err := c.saveDirectory(ctx, parent); err != nil {
		if derr := c.account.Store.Delete(ctx, ObjectKey(id)); derr != nil {
			c.logger.Error("removing uncommitted directory", "object", id, "error", derr)
		}
		return 0, false, err
	}

	c.info.BlocksUsed += blocks
	c.info.BlocksInDirectories += blocks
	c.info.NumDirectories++
	if err := c.account.RefCounts.AddReference(ctx, id); err != nil {
		return 0, false, fmt.Errorf("adding reference to %d: %w", id, err)
	}
	c.cache.put(nd)
	c.session.RecordAddedDir()
	return id, false, nil
}

// DeleteDirectory marks a directory and everything below it Deleted, or
// clears the mark when undelete is set. asap additionally flags the
// contained files RemoveASAP.
func (c *StoreContext) DeleteDirectory(ctx context.Context, id ObjectID, undelete, asap bool) error {
	if err := c.requireWrite(); err != nil {
		return err
	}
	if id == RootDirectoryID {
		return ErrCannotDeleteRoot
	}
	dir, err := c.getDirectory(ctx, id)
	if err != nil {
		return err
	}
	containerID := dir.ContainerID

	if err := c.deleteDirectoryContents(ctx, id, undelete, asap, 0); err != nil {
		return err
	}

	parent, err := c.getDirectory(ctx, containerID)
	if err != nil {
		return err
	}
	e := parent.FindEntryByID(id)
	if e == nil {
		return fmt.Errorf("%w: directory %d in %d", ErrDoesNotExistInDirectory, id, containerID)
	}
	if undelete {
		e.RemoveFlags(FlagDeleted | FlagRemoveASAP)
		e.DeleteTime = 0
		c.info.RemoveDeletedDirectory(id)
	} else {
		e.AddFlags(FlagDeleted)
		if asap {
			e.AddFlags(FlagRemoveASAP)
		}
		e.DeleteTime = TimeFromGo(c.clock.Now())
		c.info.AddDeletedDirectory(id)
		c.session.RecordDeletedDir()
	}
	return c.saveDirectory(ctx, parent)
}

func (c *StoreContext) deleteDirectoryContents(ctx context.Context, id ObjectID, undelete, asap bool, depth int) error {
	if depth > maxDirectoryDepth {
		return fmt.Errorf("directory %d: tree deeper than %d levels", id, maxDirectoryDepth)
	}
	dir, err := c.getDirectory(ctx, id)
	if err != nil {
		return err
	}
	c.cache.pin(id)
	defer c.cache.unpin(id)

	now := TimeFromGo(c.clock.Now())
	var subdirs []ObjectID
	changed := false
	for i := range dir.Entries {
		e := &dir.Entries[i]
		if e.IsDir() {
			subdirs = append(subdirs, e.ObjectID)
		}
		from := e.Flags
		switch {
		case undelete && e.IsDeleted():
			e.RemoveFlags(FlagDeleted | FlagRemoveASAP)
			e.DeleteTime = 0
		case !undelete && !e.IsDeleted():
			e.AddFlags(FlagDeleted)
			if asap {
				e.AddFlags(FlagRemoveASAP)
			}
			e.DeleteTime = now
		default:
			continue
		}
		changed = true
		if e.IsFile() {
			c.info.MoveEntry(from, e.Flags, e.SizeInBlocks)
			if !undelete && !from.Has(FlagOldVersion) {
				c.session.RecordDeletedFile(e.SizeInBlocks)
			}
		}
	}

	for _, sub := range subdirs {
		if err := c.deleteDirectoryContents(ctx, sub, undelete, asap, depth+1); err != nil {
			return err
		}
	}
	if !changed {
		return nil
	}
	return c.saveDirectory(ctx, dir)
}

// maxDirectoryDepth bounds recursive walks over a possibly corrupt tree.
const maxDirectoryDepth = 1024

// ChangeDirAttributes replaces a directory's attributes. A non-zero modTime
// also updates the directory's entry in its parent.
func (c *StoreContext) ChangeDirAttributes(ctx context.Context, id ObjectID, attrs []byte, attrModTime, modTime Time) error {
	if err := c.requireWrite(); err != nil {
		return err
	}
	dir, err := c.getDirectory(ctx, id)
	if err != nil {
		return err
	}
	c.cache.pin(id)
	defer c.cache.unpin(id)

	dir.Attributes = append([]byte(nil), attrs...)
	dir.AttributesModTime = attrModTime
	if err := c.saveDirectory(ctx, dir); err != nil {
		return err
	}

	if modTime == 0 || id == RootDirectoryID {
		return nil
	}
	parent, err := c.getDirectory(ctx, dir.ContainerID)
	if err != nil {
		return err
	}
	if e := parent.FindEntryByID(id); e != nil {
		e.ModificationTime = modTime
		return c.saveDirectory(ctx, parent)
	}
	return nil
}

// MoveObject moves an entry, or every entry sharing its name, to another
// directory or name. The destination is written before the source, so an
// interrupted move leaves the object listed twice rather than nowhere.
func (c *StoreContext) MoveObject(ctx context.Context, req MoveRequest) error {
	if err := c.requireWrite(); err != nil {
		return err
	}
	from, err := c.getDirectory(ctx, req.FromDir)
	if err != nil {
		return err
	}
	c.cache.pin(from.ObjectID)
	defer c.cache.unpin(from.ObjectID)

	target := from.FindEntryByID(req.ObjectID)
	if target == nil {
		return fmt.Errorf("%w: object %d in directory %d", ErrDoesNotExistInDirectory, req.ObjectID, req.FromDir)
	}
	oldName := append([]byte(nil), target.Name...)

	to, err := c.getDirectory(ctx, req.ToDir)
	if err != nil {
		return err
	}
	c.cache.pin(to.ObjectID)
	defer c.cache.unpin(to.ObjectID)

	for i := range to.Entries {
		e := &to.Entries[i]
		if !bytes.Equal(e.Name, req.NewName) {
			continue
		}
		if req.AllowMoveOverDeleted && e.IsDeleted() {
			continue
		}
		if to == from && (e.ObjectID == req.ObjectID || (req.MoveAllWithSameName && bytes.Equal(e.Name, oldName))) {
			continue
		}
		return fmt.Errorf("%w: %q in directory %d", ErrNameAlreadyExists, req.NewName, req.ToDir)
	}

	var moving []ObjectID
	for i := range from.Entries {
		e := &from.Entries[i]
		if e.ObjectID == req.ObjectID || (req.MoveAllWithSameName && bytes.Equal(e.Name, oldName)) {
			moving = append(moving, e.ObjectID)
		}
	}

	if err := c.checkNotAncestor(ctx, to, from, moving); err != nil {
		return err
	}

	if to == from {
		for _, id := range moving {
			from.FindEntryByID(id).Name = append([]byte(nil), req.NewName...)
		}
		return c.saveDirectory(ctx, from)
	}

	var movedDirs []ObjectID
	for _, id := range moving {
		e := *from.FindEntryByID(id)
		e.Name = append([]byte(nil), req.NewName...)
		to.AddEntry(e)
		if e.IsDir() {
			movedDirs = append(movedDirs, id)
		}
	}
	if err := c.saveDirectory(ctx, to); err != nil {
		c.cache.remove(from.ObjectID)
		return err
	}
	for _, id := range moving {
		from.DeleteEntry(id)
	}
	if err := c.saveDirectory(ctx, from); err != nil {
		return err
	}

	for _, id := range movedDirs {
		d, err := c.getDirectory(ctx, id)
		if err != nil {
			return err
		}
		d.ContainerID = to.ObjectID
		if err := c.saveDirectory(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// checkNotAncestor fails if any directory in moving is dest or one of its
// containers.
func (c *StoreContext) checkNotAncestor(ctx context.Context, dest, from *Directory, moving []ObjectID) error {
	dirs := make(map[ObjectID]bool)
	for _, id := range moving {
		if from.FindEntryByID(id).IsDir() {
			dirs[id] = true
		}
	}
	if len(dirs) == 0 {
		return nil
	}
	id := dest.ObjectID
	for depth := 0; ; depth++ {
		if dirs[id] {
			return fmt.Errorf("%w: directory %d would contain itself", ErrMoveIntoItself, id)
		}
		if id == RootDirectoryID {
			return nil
		}
		if depth >= maxDirectoryDepth {
			return fmt.Errorf("directory %d is nested more than %d deep", dest.ObjectID, maxDirectoryDepth)
		}
		d, err := c.getDirectory(ctx, id)
		if err != nil {
			return err
		}
		id = d.ContainerID
	}
}

// GetObjectName walks from an object up to the root. With id set to
// ObjectIDDirectoryOnly it names the directory containerID itself. Returns
// nil, nil if any step of the path does not exist.
func (c *StoreContext) GetObjectName(ctx context.Context, id, containerID ObjectID) (*ObjectName, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}

	cur, target := containerID, id
	if target == ObjectIDDirectoryOnly {
		if containerID == RootDirectoryID {
			return &ObjectName{}, nil
		}
		d, err := c.lookupDirectory(ctx, containerID)
		if d == nil || err != nil {
			return nil, err
		}
		cur, target = d.ContainerID, containerID
	}

	name := &ObjectName{}
	for depth := 0; ; depth++ {
		if depth > maxDirectoryDepth {
			return nil, nil
		}
		d, err := c.lookupDirectory(ctx, cur)
		if d == nil || err != nil {
			return nil, err
		}
		e := d.FindEntryByID(target)
		if e == nil {
			return nil, nil
		}
		if depth == 0 {
			name.ModificationTime = e.ModificationTime
			name.AttributesHash = e.AttributesHash
			name.Flags = e.Flags
			name.BackupTime = e.BackupTime
			name.DeleteTime = e.DeleteTime
		}
		name.Elements = append(name.Elements, append([]byte(nil), e.Name...))
		if cur == RootDirectoryID {
			break
		}
		target, cur = cur, d.ContainerID
	}

	for l, r := 0, len(name.Elements)-1; l < r; l, r = l+1, r-1 {
		name.Elements[l], name.Elements[r] = name.Elements[r], name.Elements[l]
	}
	return name, nil
}

// lookupDirectory is getDirectory with a missing directory reported as nil, nil.
func (c *StoreContext) lookupDirectory(ctx context.Context, id ObjectID) (*Directory, error) {
	d, err := c.getDirectory(ctx, id)
	if err != nil {
		if isDoesNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}
