package housekeeping

import (
	"context"
	"sort"

	"boxstore/internal/box"
)

// candidate is a file version that may be deleted.
type candidate struct {
	id     box.ObjectID
	dir    box.ObjectID
	blocks int64
	mark   int32
	age    int32 // 0 is the newest version of its name within the mark

	// forced versions are removed whatever the usage.
	forced bool
	// eligible versions may be removed to bring usage under the soft limit.
	eligible bool
}

// less orders candidates oldest first: oldest mark, then oldest version
// within the mark, then lowest object ID.
func (c candidate) less(o candidate) bool {
	if c.mark != o.mark {
		return c.mark < o.mark
	}
	if c.age != o.age {
		return c.age > o.age
	}
	return c.id < o.id
}

// scan walks the tree from the root, recomputing usage and collecting the
// deletion candidates and the empty directories.
func (h *Housekeeper) scan(ctx context.Context) error {
	totals := &box.StoreInfo{}
	seen := make(map[box.ObjectID]bool)
	queue := []box.ObjectID{box.RootDirectoryID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		d, err := h.directory(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			h.logger.Warn("directory is missing, run a check", "directory", id)
			continue
		}
		if err := h.scanDirectory(ctx, d, totals); err != nil {
			return err
		}
		totals.NumDirectories++
		totals.BlocksInDirectories += d.SizeInBlocks
		if len(d.Entries) == 0 && id != box.RootDirectoryID {
			h.empty = append(h.empty, id)
		}
		for i := range d.Entries {
			e := &d.Entries[i]
			if !e.IsDir() {
				continue
			}
			if e.IsDeleted() {
				totals.AddDeletedDirectory(e.ObjectID)
			}
			queue = append(queue, e.ObjectID)
		}
	}
	totals.BlocksUsed = totals.CategorySum()
	h.correctUsage(totals)

	sort.Slice(h.candidates, func(i, j int) bool { return h.candidates[i].less(h.candidates[j]) })
	return nil
}

// scanDirectory accounts the file entries of d and records its old and
// deleted versions as candidates. Entries are visited newest first, so the
// first version seen of each name has age 0.
func (h *Housekeeper) scanDirectory(ctx context.Context, d *box.Directory, totals *box.StoreInfo) error {
	type version struct {
		name string
		mark int32
	}
	ages := make(map[version]int32)
	supersededAt := make(map[string]box.Time)
	snapshot := h.info.IsSnapshotMode()
	limit := int32(h.info.VersionCountLimit)
	fixed := false

	for i := len(d.Entries) - 1; i >= 0; i-- {
		e := &d.Entries[i]
		if !e.IsFile() {
			continue
		}
		totals.AccountEntry(e.Flags, e.SizeInBlocks, 1)

		key := version{string(e.Name), e.MarkNumber}
		age := int32(0)
		if prev, ok := ages[key]; ok {
			age = prev + 1
		}
		ages[key] = age

		newer, hasNewer := supersededAt[key.name]
		supersededAt[key.name] = e.BackupTime

		if e.IsCurrent() {
			continue
		}

		if h.opts.Flags&FixForSnapshotMode != 0 && e.IsOld() && e.DeleteTime == 0 && hasNewer && newer != 0 {
			e.DeleteTime = newer
			fixed = true
			h.res.SnapshotFixes++
		}

		c := candidate{
			id:     e.ObjectID,
			dir:    d.ObjectID,
			blocks: e.SizeInBlocks,
			mark:   e.MarkNumber,
			age:    age,
		}
		switch {
		case e.Flags.Has(box.FlagRemoveASAP):
			c.forced = true
		case e.IsDeleted() && h.opts.Flags&RemoveDeleted != 0:
			c.forced = true
		case !e.IsDeleted() && h.opts.Flags&RemoveOldVersions != 0:
			c.forced = true
		case !snapshot && limit > 0 && !e.IsDeleted() && age > limit:
			c.forced = true
		}

		end := e.DeleteTime
		if end == 0 && hasNewer {
			end = newer
		}
		c.eligible = !snapshot || !h.neededBySnapshot(e.BackupTime, end)
		h.candidates = append(h.candidates, c)
	}

	if fixed {
		return h.saveDirectory(ctx, d)
	}
	return nil
}

// correctUsage replaces the usage counters with the recomputed totals,
// logging any that were wrong.
func (h *Housekeeper) correctUsage(totals *box.StoreInfo) {
	fixed := h.info.Clone()
	fixed.BlocksUsed = totals.BlocksUsed
	fixed.BlocksInCurrentFiles = totals.BlocksInCurrentFiles
	fixed.BlocksInOldFiles = totals.BlocksInOldFiles
	fixed.BlocksInDeletedFiles = totals.BlocksInDeletedFiles
	fixed.BlocksInDirectories = totals.BlocksInDirectories
	fixed.NumCurrentFiles = totals.NumCurrentFiles
	fixed.NumOldFiles = totals.NumOldFiles
	fixed.NumDeletedFiles = totals.NumDeletedFiles
	fixed.NumDirectories = totals.NumDirectories
	fixed.DeletedDirectories = totals.DeletedDirectories

	diffs := h.info.Differences(fixed)
	for _, diff := range diffs {
		h.logger.Warn("store info counter corrected", "change", diff)
	}
	h.res.UsageCorrections = diffs
	h.info = fixed
	h.res.Info = fixed
}

// retainedSnapshots returns the end times of the sessions snapshot
// retention keeps: the newest limit sessions, or all when limit is 0.
func retainedSnapshots(list *box.BackupsList, limit uint32) []box.Time {
	ends := list.EndTimes()
	if limit > 0 && len(ends) > int(limit) {
		ends = ends[len(ends)-int(limit):]
	}
	return ends
}

// neededBySnapshot reports whether a version that lived from backup until
// end is part of any retained snapshot. An end of 0 means it never ended.
func (h *Housekeeper) neededBySnapshot(backup, end box.Time) bool {
	for _, t := range h.snapshots {
		if backup <= t && (end == 0 || end > t) {
			return true
		}
	}
	return false
}
