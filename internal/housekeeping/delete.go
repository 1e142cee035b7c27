package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"boxstore/internal/box"
)

// deleteFiles removes the forced candidates, then removes eligible ones
// oldest first until usage is under the soft limit. It reports whether the
// run was interrupted.
func (h *Housekeeper) deleteFiles(ctx context.Context) (bool, error) {
	done := make(map[box.ObjectID]bool)
	for _, c := range h.candidates {
		if !c.forced {
			continue
		}
		if _, err := h.deleteFile(ctx, c); err != nil {
			return false, err
		}
		done[c.id] = true
		if stop, err := h.step(ctx); err != nil || stop {
			return stop, err
		}
	}

	if h.opts.Flags&DisableAutoClean != 0 {
		return false, nil
	}
	target := h.info.BlocksUsed - h.info.BlocksSoftLimit
	if target <= 0 {
		return false, nil
	}
	h.logger.Info("usage over soft limit", "blocks_used", h.info.BlocksUsed, "soft_limit", h.info.BlocksSoftLimit, "target", target)

	var freed int64
	for _, c := range h.candidates {
		if freed >= target {
			break
		}
		if done[c.id] || !c.eligible {
			continue
		}
		blocks, err := h.deleteFile(ctx, c)
		if err != nil {
			return false, err
		}
		freed += blocks
		if stop, err := h.step(ctx); err != nil || stop {
			return stop, err
		}
	}
	if freed < target {
		h.logger.Warn("not enough old or deleted versions to get under the soft limit", "freed", freed, "target", target)
	}
	return false, nil
}

// deleteFile removes one file version from its directory and, once nothing
// else references it, from storage. It returns the blocks freed in storage,
// which is 0 if the object is still referenced, the entry was already gone
// or it could not be removed safely.
func (h *Housekeeper) deleteFile(ctx context.Context, c candidate) (int64, error) {
	d, err := h.directory(ctx, c.dir)
	if err != nil || d == nil {
		return 0, err
	}
	e := d.FindEntryByID(c.id)
	if e == nil {
		return 0, nil
	}
	flags, blocks, older, newer := e.Flags, e.SizeInBlocks, e.DependsOlder, e.DependsNewer

	// An older version stored as a patch against this one must be made
	// complete before this object goes.
	if older != 0 {
		ok, err := h.rebuildOlder(ctx, d, older, c.id)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
	}
	if newer != 0 {
		if n := d.FindEntryByID(newer); n != nil && n.DependsOlder == c.id {
			n.DependsOlder = 0
		}
	}

	// Usage is counted per entry, so the entry's blocks leave both its
	// category and BlocksUsed even if another entry keeps the object.
	d.DeleteEntry(c.id)
	h.info.AccountEntry(flags, blocks, -1)
	h.info.BlocksUsed -= blocks
	if err := h.saveDirectory(ctx, d); err != nil {
		return 0, err
	}

	var freed int64
	remaining, err := h.acct.RefCounts.RemoveReference(ctx, c.id)
	if err != nil {
		return 0, fmt.Errorf("removing reference to %d: %w", c.id, err)
	}
	if remaining == 0 {
		if err := h.acct.Store.Delete(ctx, box.ObjectKey(c.id)); err != nil {
			return 0, fmt.Errorf("deleting object %d: %w", c.id, err)
		}
		freed = blocks
		h.res.BlocksFreed += blocks
	} else {
		h.logger.Warn("object still referenced, keeping it", "object", c.id, "references", remaining)
		h.res.MultiplyReferenced++
	}

	h.session.RecordDeletedFile(blocks)
	h.res.FilesDeleted++
	h.logger.Debug("deleted file version", "directory", c.dir, "object", c.id, "blocks", blocks)

	if len(d.Entries) == 0 && d.ObjectID != box.RootDirectoryID {
		h.empty = append(h.empty, d.ObjectID)
	}
	return freed, nil
}

// rebuildOlder rewrites the patch id, made against object of, as a complete
// file. It reports false if the patch chain cannot be rebuilt, in which case
// of must be kept.
func (h *Housekeeper) rebuildOlder(ctx context.Context, d *box.Directory, id, of box.ObjectID) (bool, error) {
	e := d.FindEntryByID(id)
	if e == nil || e.DependsNewer != of {
		return true, nil
	}

	f, _, err := box.RebuildObject(ctx, h.acct.Store, h.spool, d, id, h.spoolName)
	if err != nil {
		if errors.Is(err, box.ErrPatchChainBroken) || errors.Is(err, box.ErrFileDoesNotVerify) || errors.Is(err, box.ErrDoesNotExist) {
			h.logger.Error("cannot rebuild patch, keeping the version it depends on", "object", id, "depends_on", of, "error", err)
			return false, nil
		}
		return false, err
	}
	defer func() {
		if err := box.DiscardSpoolFile(h.spool, f); err != nil {
			h.logger.Warn("discarding spool file", "error", err)
		}
	}()

	size, err := f.Size()
	if err != nil {
		return false, fmt.Errorf("sizing rebuilt object %d: %w", id, err)
	}
	blocks, err := h.acct.Store.Put(ctx, box.ObjectKey(id), io.NewSectionReader(f, 0, size))
	if err != nil {
		return false, fmt.Errorf("storing rebuilt object %d: %w", id, err)
	}
	h.info.BlocksUsed += blocks - e.SizeInBlocks
	h.info.AccountEntry(e.Flags, e.SizeInBlocks, -1)
	h.info.AccountEntry(e.Flags, blocks, 1)
	e.SizeInBlocks = blocks
	e.DependsNewer = 0

	h.logger.Debug("rebuilt patch as complete file", "object", id, "blocks", blocks)
	return true, nil
}

// deleteEmptyDirectories removes empty directories, lowest object ID first.
// Removing a directory may leave its container empty, which is then
// examined in turn.
func (h *Housekeeper) deleteEmptyDirectories(ctx context.Context) (bool, error) {
	force := h.opts.Flags&ForceDeleteEmptyDirectories != 0
	examined := make(map[box.ObjectID]bool)
	for len(h.empty) > 0 {
		sort.Slice(h.empty, func(i, j int) bool { return h.empty[i] < h.empty[j] })
		id := h.empty[0]
		h.empty = h.empty[1:]
		if examined[id] {
			continue
		}
		examined[id] = true

		parent, err := h.deleteEmptyDirectory(ctx, id, force)
		if err != nil {
			return false, err
		}
		if parent == nil {
			continue
		}
		if len(parent.Entries) == 0 && parent.ObjectID != box.RootDirectoryID {
			delete(examined, parent.ObjectID)
			h.empty = append(h.empty, parent.ObjectID)
		}
		if stop, err := h.step(ctx); err != nil || stop {
			return stop, err
		}
	}
	return false, nil
}

// deleteEmptyDirectory removes directory id if it is empty and deleted, or
// empty and force is set. It returns the container it was removed from, or
// nil if it was kept.
func (h *Housekeeper) deleteEmptyDirectory(ctx context.Context, id box.ObjectID, force bool) (*box.Directory, error) {
	if id == box.RootDirectoryID {
		return nil, nil
	}
	d, err := h.directory(ctx, id)
	if err != nil || d == nil || len(d.Entries) != 0 {
		return nil, err
	}
	parent, err := h.directory(ctx, d.ContainerID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		h.logger.Warn("container of empty directory is missing, run a check", "directory", id, "container", d.ContainerID)
		return nil, nil
	}
	e := parent.FindEntryByID(id)
	if e == nil || !e.IsDir() {
		h.logger.Warn("empty directory is not listed by its container, run a check", "directory", id, "container", d.ContainerID)
		return nil, nil
	}
	if !force && !e.IsDeleted() {
		return nil, nil
	}

	parent.DeleteEntry(id)
	if err := h.saveDirectory(ctx, parent); err != nil {
		return nil, err
	}
	h.info.RemoveDeletedDirectory(id)

	// Directory usage is counted per stored object, so it only changes once
	// the object itself goes.
	remaining, err := h.acct.RefCounts.RemoveReference(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("removing reference to %d: %w", id, err)
	}
	if remaining == 0 {
		if err := h.acct.Store.Delete(ctx, box.ObjectKey(id)); err != nil {
			return nil, fmt.Errorf("deleting directory %d: %w", id, err)
		}
		h.info.NumDirectories--
		h.info.BlocksInDirectories -= d.SizeInBlocks
		h.info.BlocksUsed -= d.SizeInBlocks
		h.res.BlocksFreed += d.SizeInBlocks
	} else {
		h.logger.Warn("directory still referenced, keeping it", "directory", id, "references", remaining)
		h.res.MultiplyReferenced++
	}
	delete(h.dirs, id)

	h.session.RecordDeletedDir()
	h.res.DirectoriesDeleted++
	h.logger.Debug("deleted empty directory", "directory", id, "container", parent.ObjectID)
	return parent, nil
}
