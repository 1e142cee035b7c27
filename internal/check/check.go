// Package check verifies the structure of an account store and optionally
// repairs it.
//
// A check reads every stored object, then walks every directory marking the
// objects it lists. Objects that no directory lists are reattached: files to
// the directory recorded in their header, directory objects and homeless
// files to a lost+found directory under the root. Finally the store info,
// reference counts and backups list are regenerated from what was found.
package check

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"boxstore/internal/box"
)

// Options controls a check run.
type Options struct {
	// Fix writes repairs to the store. Without it the store is not modified.
	Fix bool
}

// Result is the outcome of a check.
type Result struct {
	// ErrorsFound counts every problem seen, including those repaired.
	ErrorsFound int64

	// Info is the regenerated store info. It is saved only when fixing.
	Info *box.StoreInfo

	// LostAndFound is the directory unattached objects were moved to, or 0.
	LostAndFound box.ObjectID
}

// object is what the scan learned about one stored object.
type object struct {
	isDir     bool
	container box.ObjectID
	blocks    int64
	contained bool

	// Files only.
	dependsOn box.ObjectID
	name      []byte
	modTime   box.Time
}

// Checker checks one account. Use a new Checker for each run.
type Checker struct {
	acct   *box.Account
	locker box.Locker
	spool  box.Spool
	logger box.Logger
	opts   Options

	errors  int64
	objects map[box.ObjectID]*object
	dirs    map[box.ObjectID]*box.Directory
	dirty   map[box.ObjectID]bool
	lastID  box.ObjectID

	// lostDirs maps a missing directory to the directory listing it.
	lostDirs map[box.ObjectID]box.ObjectID
	// wrongContainer maps a directory to the container that lists it.
	wrongContainer map[box.ObjectID]box.ObjectID
	// listedIn maps a directory to the directory whose entry was accepted.
	listedIn  map[box.ObjectID]box.ObjectID
	dirsAdded map[box.ObjectID]bool

	lostAndFound  box.ObjectID
	lostDirSerial int
}

// New creates a checker for acct.
func New(acct *box.Account, locker box.Locker, spool box.Spool, logger box.Logger, opts Options) *Checker {
	return &Checker{
		acct:           acct,
		locker:         locker,
		spool:          spool,
		logger:         logger,
		opts:           opts,
		objects:        make(map[box.ObjectID]*object),
		dirs:           make(map[box.ObjectID]*box.Directory),
		dirty:          make(map[box.ObjectID]bool),
		lostDirs:       make(map[box.ObjectID]box.ObjectID),
		wrongContainer: make(map[box.ObjectID]box.ObjectID),
		listedIn:       make(map[box.ObjectID]box.ObjectID),
		dirsAdded:      make(map[box.ObjectID]bool),
	}
}

// Run checks the account. It takes the account lock and fails with an
// AccountLockError, without waiting, if another process holds it.
func (c *Checker) Run(ctx context.Context) (*Result, error) {
	unlock, ok, err := c.locker.TryLock(c.acct.ID)
	if err != nil {
		return nil, fmt.Errorf("locking account %08x: %w", c.acct.ID, err)
	}
	if !ok {
		return nil, &box.AccountLockError{AccountID: c.acct.ID}
	}
	defer func() {
		if err := unlock(); err != nil {
			c.logger.Error("releasing account lock", "error", err)
		}
	}()

	c.logger.Info("checking account", "account", fmt.Sprintf("%08x", c.acct.ID), "fix", c.opts.Fix)

	old, err := box.LoadStoreInfo(ctx, c.acct.Store)
	if err != nil {
		if !errors.Is(err, box.ErrBadStoreInfo) {
			return nil, err
		}
		c.fault("store info is unreadable", "error", err)
		old = nil
	} else if old == nil {
		c.fault("store info is missing")
	}
	if old != nil {
		c.lastID = old.LastObjectIDUsed
	}

	if err := c.scanObjects(ctx, old); err != nil {
		return nil, err
	}
	c.checkRoot()
	c.checkDirectories()
	c.checkReachable()
	if err := c.attachUnattached(ctx); err != nil {
		return nil, err
	}
	c.fixWrongContainers()
	c.fixLostDirs()
	if c.opts.Fix {
		if err := c.saveDirty(ctx); err != nil {
			return nil, err
		}
	}

	totals, refs, sessions := c.tally()
	if err := c.checkRefCounts(ctx, refs); err != nil {
		return nil, err
	}
	info, err := c.writeStoreInfo(ctx, old, totals)
	if err != nil {
		return nil, err
	}
	if err := c.checkBackupsList(ctx, sessions); err != nil {
		return nil, err
	}

	c.logger.Info("check finished", "account", fmt.Sprintf("%08x", c.acct.ID), "errors", c.errors)
	return &Result{ErrorsFound: c.errors, Info: info, LostAndFound: c.lostAndFound}, nil
}

func (c *Checker) fault(msg string, args ...any) {
	c.errors++
	c.logger.Warn(msg, args...)
}

func (c *Checker) deleteObject(ctx context.Context, id box.ObjectID) error {
	if !c.opts.Fix {
		return nil
	}
	if err := c.acct.Store.Delete(ctx, box.ObjectKey(id)); err != nil {
		return fmt.Errorf("deleting object %d: %w", id, err)
	}
	return nil
}

// scanObjects reads every stored object into the index.
func (c *Checker) scanObjects(ctx context.Context, old *box.StoreInfo) error {
	store := c.acct.Store
	keys, err := store.List(ctx, box.ObjectKeyPrefix())
	if err != nil {
		return fmt.Errorf("listing objects: %w", err)
	}

	var maxSeen box.ObjectID
	for _, key := range keys {
		id, ok := box.ParseObjectKey(key)
		if !ok {
			c.fault("unrecognised object key", "key", key)
			if c.opts.Fix {
				if err := store.Delete(ctx, key); err != nil {
					return fmt.Errorf("deleting %s: %w", key, err)
				}
			}
			continue
		}
		obj, err := c.readObject(ctx, id)
		if err != nil {
			return err
		}
		if obj == nil {
			c.fault("object is corrupt", "object", id)
			if err := c.deleteObject(ctx, id); err != nil {
				return err
			}
			continue
		}
		c.objects[id] = obj
		if id > maxSeen {
			maxSeen = id
		}
	}

	if old != nil && maxSeen > old.LastObjectIDUsed {
		c.fault("object ID beyond last used ID", "object", maxSeen, "last_used", old.LastObjectIDUsed)
	}
	if maxSeen > c.lastID {
		c.lastID = maxSeen
	}
	return nil
}

// readObject classifies and verifies one object. A nil object means the
// stored bytes are not a valid object.
func (c *Checker) readObject(ctx context.Context, id box.ObjectID) (*object, error) {
	store := c.acct.Store
	key := box.ObjectKey(id)
	blocks, err := store.SizeInBlocks(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("sizing object %d: %w", id, err)
	}

	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("opening object %d: %w", id, err)
	}
	head, perr := bufio.NewReader(rc).Peek(4)
	var magic uint32
	if perr == nil {
		magic = binary.BigEndian.Uint32(head)
	}
	rc.Close()

	switch {
	case perr != nil:
		return nil, nil

	case box.IsDirectoryMagic(magic):
		rc, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("opening object %d: %w", id, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading object %d: %w", id, err)
		}
		d, err := box.DeserializeDirectory(bytes.NewReader(data))
		if err != nil || d.ObjectID != id {
			return nil, nil
		}
		d.SizeInBlocks = blocks
		c.dirs[id] = d
		return &object{isDir: true, container: d.ContainerID, blocks: blocks}, nil

	case magic == box.FileMagic:
		f, ef, err := box.SpoolObject(ctx, store, c.spool, fmt.Sprintf("check-%d", id), id)
		if err != nil {
			if errors.Is(err, box.ErrFileDoesNotVerify) {
				return nil, nil
			}
			return nil, err
		}
		if err := box.DiscardSpoolFile(c.spool, f); err != nil {
			c.logger.Warn("discarding spool file", "error", err)
		}
		return &object{
			container: ef.Header.ContainerID,
			blocks:    blocks,
			dependsOn: ef.Index.OtherFileID,
			name:      ef.Header.Name,
			modTime:   ef.Header.ModificationTime,
		}, nil

	default:
		return nil, nil
	}
}

// checkRoot marks the root as contained, creating it if it is missing.
func (c *Checker) checkRoot() {
	if obj, ok := c.objects[box.RootDirectoryID]; ok && obj.isDir {
		obj.contained = true
		return
	}
	c.fault("root directory is missing")
	if c.opts.Fix {
		c.createDirectory(box.RootDirectoryID, box.RootDirectoryID)
	}
}

// createDirectory adds a blank directory to be written with the repairs.
func (c *Checker) createDirectory(id, containerID box.ObjectID) *box.Directory {
	d := box.NewDirectory(id, containerID)
	c.dirs[id] = d
	c.dirty[id] = true
	c.objects[id] = &object{isDir: true, container: containerID, contained: true}
	c.dirsAdded[id] = true
	return d
}

// checkDirectories validates every entry of every directory.
func (c *Checker) checkDirectories() {
	for _, id := range sortedIDs(c.dirs) {
		d := c.dirs[id]
		if d.CheckAndFix() {
			c.fault("directory entries are inconsistent", "directory", id)
			c.dirty[id] = true
		}

		kept := make([]box.Entry, 0, len(d.Entries))
		changed := false
		for _, e := range d.Entries {
			keep, modified := c.checkEntry(d, &e)
			if !keep || modified {
				changed = true
			}
			if keep {
				kept = append(kept, e)
			}
		}
		if changed {
			d.Entries = kept
			d.CheckAndFix()
			c.dirty[id] = true
		}
	}
}

func (c *Checker) checkEntry(d *box.Directory, e *box.Entry) (keep, modified bool) {
	obj, ok := c.objects[e.ObjectID]
	if !ok {
		if e.IsDir() {
			c.fault("entry refers to a missing directory", "directory", d.ObjectID, "object", e.ObjectID)
			c.lostDirs[e.ObjectID] = d.ObjectID
			return true, false
		}
		c.fault("entry refers to a missing object", "directory", d.ObjectID, "object", e.ObjectID)
		return false, false
	}
	if obj.isDir != e.IsDir() {
		c.fault("entry type does not match object", "directory", d.ObjectID, "object", e.ObjectID)
		return false, false
	}
	if obj.contained || e.ObjectID == d.ObjectID {
		c.fault("object is listed more than once", "directory", d.ObjectID, "object", e.ObjectID)
		return false, false
	}
	obj.contained = true

	if obj.isDir {
		c.listedIn[e.ObjectID] = d.ObjectID
		if obj.container != d.ObjectID {
			c.fault("directory has the wrong container", "object", e.ObjectID, "recorded", obj.container, "actual", d.ObjectID)
			c.wrongContainer[e.ObjectID] = d.ObjectID
			obj.container = d.ObjectID
		}
		return true, false
	}
	if e.SizeInBlocks != obj.blocks {
		c.fault("entry has the wrong size", "directory", d.ObjectID, "object", e.ObjectID, "recorded", e.SizeInBlocks, "actual", obj.blocks)
		e.SizeInBlocks = obj.blocks
		return true, true
	}
	return true, false
}

// checkReachable detaches directories that are listed only from within a
// cycle no path from the root leads into. Each detached directory is left
// unattached, so its subtree is moved to lost+found.
func (c *Checker) checkReachable() {
	reached := make(map[box.ObjectID]bool)
	c.markSubtree(box.RootDirectoryID, reached)

	for _, id := range sortedIDs(c.dirs) {
		if reached[id] {
			continue
		}
		// Walk up through the listing directories until the chain leaves
		// the unreached part of the tree or closes on itself.
		chain := map[box.ObjectID]bool{id: true}
		top := id
		for {
			parent, ok := c.listedIn[top]
			if !ok || reached[parent] {
				break
			}
			if chain[parent] {
				c.detach(top, parent)
				break
			}
			chain[parent] = true
			top = parent
		}
		c.markSubtree(top, reached)
	}
}

// detach removes the entry for directory id from parent.
func (c *Checker) detach(id, parent box.ObjectID) {
	c.logger.Warn("directory is not reachable from the root", "directory", id, "listed_in", parent)
	if d, ok := c.dirs[parent]; ok {
		d.DeleteEntry(id)
		d.CheckAndFix()
		c.dirty[parent] = true
	}
	delete(c.listedIn, id)
	delete(c.wrongContainer, id)
	c.objects[id].contained = false
}

// markSubtree marks id and every directory below it as reached.
func (c *Checker) markSubtree(id box.ObjectID, reached map[box.ObjectID]bool) {
	stack := []box.ObjectID{id}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[id] {
			continue
		}
		reached[id] = true
		d, ok := c.dirs[id]
		if !ok {
			continue
		}
		for _, e := range d.Entries {
			if e.IsDir() && c.listedIn[e.ObjectID] == id {
				stack = append(stack, e.ObjectID)
			}
		}
	}
}

// attachUnattached finds a home for every object no directory lists.
func (c *Checker) attachUnattached(ctx context.Context) error {
	for _, id := range sortedIDs(c.objects) {
		obj := c.objects[id]
		if obj.contained {
			continue
		}
		c.fault("object is unattached", "object", id)

		var into box.ObjectID
		switch {
		case obj.isDir:
			into = c.lostAndFoundID()
		case obj.dependsOn != 0:
			c.logger.Warn("unattached object is a patch and cannot be recovered, deleting", "object", id)
			if err := c.deleteObject(ctx, id); err != nil {
				return err
			}
			if c.opts.Fix {
				delete(c.objects, id)
			}
			continue
		default:
			into = c.homeFor(obj)
		}
		if !c.opts.Fix {
			continue
		}
		c.insert(into, id, obj)
	}
	return nil
}

// homeFor picks the directory an unattached file goes back into.
func (c *Checker) homeFor(obj *object) box.ObjectID {
	if parent, ok := c.objects[obj.container]; ok {
		if parent.isDir {
			return obj.container
		}
		return c.lostAndFoundID()
	}
	if c.dirsAdded[obj.container] || c.recreateDirectory(obj.container) {
		return obj.container
	}
	return c.lostAndFoundID()
}

// recreateDirectory regenerates a missing directory that is still listed by
// its own parent.
func (c *Checker) recreateDirectory(id box.ObjectID) bool {
	parent, ok := c.lostDirs[id]
	if !ok {
		return false
	}
	if !c.opts.Fix {
		c.logger.Warn("missing directory could be recreated", "directory", id)
		c.dirsAdded[id] = true
		return true
	}
	c.logger.Warn("recreating missing directory", "directory", id)
	c.createDirectory(id, parent)
	delete(c.lostDirs, id)
	return true
}

// lostAndFoundID returns the lost+found directory, creating it under the
// root on first use. Without Fix it returns 0.
func (c *Checker) lostAndFoundID() box.ObjectID {
	if c.lostAndFound != 0 || !c.opts.Fix {
		return c.lostAndFound
	}
	root := c.dirs[box.RootDirectoryID]

	var name []byte
	for n := 0; ; n++ {
		name = []byte(fmt.Sprintf("lost+found%d", n))
		if !root.NameInUse(name) {
			break
		}
	}
	c.logger.Warn("lost and found directory created", "name", string(name))

	c.lastID++
	id := c.lastID
	c.createDirectory(id, box.RootDirectoryID)
	root.AddEntry(box.Entry{Name: name, ObjectID: id, Flags: box.FlagDir})
	c.dirty[box.RootDirectoryID] = true
	c.lostAndFound = id
	return id
}

func (c *Checker) insert(into, id box.ObjectID, obj *object) {
	d := c.dirs[into]
	if obj.isDir {
		name := []byte(fmt.Sprintf("dir%08x", c.lostDirSerial))
		c.lostDirSerial++
		d.AddUnattachedObject(name, 100, 0, 0, id, 0, box.FlagDir)
		if sub := c.dirs[id]; sub.ContainerID != into {
			sub.ContainerID = into
			c.dirty[id] = true
		}
		obj.container = into
	} else {
		d.AddUnattachedObject(obj.name, obj.modTime, 0, 0, id, obj.blocks, box.FlagFile)
	}
	obj.contained = true
	c.dirty[into] = true
}

func (c *Checker) fixWrongContainers() {
	if !c.opts.Fix {
		return
	}
	for id, container := range c.wrongContainer {
		if d, ok := c.dirs[id]; ok {
			d.ContainerID = container
			c.dirty[id] = true
		}
	}
}

// fixLostDirs removes entries for missing directories that could not be
// recreated.
func (c *Checker) fixLostDirs() {
	if !c.opts.Fix {
		return
	}
	for missing, parent := range c.lostDirs {
		d, ok := c.dirs[parent]
		if !ok {
			continue
		}
		d.DeleteEntry(missing)
		d.CheckAndFix()
		c.dirty[parent] = true
	}
}

func (c *Checker) saveDirty(ctx context.Context) error {
	for _, id := range sortedIDs(c.dirty) {
		d, ok := c.dirs[id]
		if !ok {
			continue
		}
		d.CheckAndFix()
		blocks, err := box.SaveDirectory(ctx, c.acct.Store, d)
		if err != nil {
			return err
		}
		c.objects[id].blocks = blocks
	}
	c.dirty = make(map[box.ObjectID]bool)
	return nil
}

// tally recomputes usage, reference counts and per-backup-time sessions
// from the directories as they now stand.
func (c *Checker) tally() (*box.StoreInfo, map[box.ObjectID]int64, []box.SessionInfo) {
	totals := &box.StoreInfo{}
	refs := map[box.ObjectID]int64{box.RootDirectoryID: 1}
	sessions := box.NewBackupsList()

	for _, id := range sortedIDs(c.dirs) {
		d := c.dirs[id]
		totals.NumDirectories++
		totals.BlocksInDirectories += d.SizeInBlocks

		for i := range d.Entries {
			e := &d.Entries[i]
			refs[e.ObjectID]++
			s := box.SessionInfo{StartTime: e.BackupTime, EndTime: e.BackupTime + 1000}
			if e.IsDir() {
				if e.IsDeleted() {
					totals.AddDeletedDirectory(e.ObjectID)
				}
				s.RecordAddedDir()
			} else {
				totals.AccountEntry(e.Flags, e.SizeInBlocks, 1)
				s.RecordAddedFile(e.SizeInBlocks)
			}
			if e.BackupTime != 0 {
				sessions.Add(s)
			}
		}
	}
	totals.BlocksUsed = totals.CategorySum()
	return totals, refs, sessions.Sessions()
}

func (c *Checker) checkRefCounts(ctx context.Context, refs map[box.ObjectID]int64) error {
	stored, err := c.acct.RefCounts.All(ctx)
	if err != nil {
		return fmt.Errorf("reading reference counts: %w", err)
	}
	drift := 0
	for id, n := range refs {
		if stored[id] != n {
			c.fault("reference count is wrong", "object", id, "recorded", stored[id], "actual", n)
			drift++
		}
	}
	for id, n := range stored {
		if _, ok := refs[id]; !ok && n != 0 {
			c.fault("reference count for unlisted object", "object", id, "recorded", n)
			drift++
		}
	}
	if drift == 0 || !c.opts.Fix {
		return nil
	}
	if err := c.acct.RefCounts.ReplaceAll(ctx, refs); err != nil {
		return fmt.Errorf("replacing reference counts: %w", err)
	}
	return nil
}

// writeStoreInfo builds the new info from the tallied totals. Limits keep
// their old values unless errors were found and they are too low to stop
// housekeeping deleting data on its next run.
func (c *Checker) writeStoreInfo(ctx context.Context, old, totals *box.StoreInfo) (*box.StoreInfo, error) {
	minSoft := (totals.BlocksUsed*11)/10 + 1024
	minHard := (minSoft*11)/10 + 1024

	info := totals
	info.AccountID = c.acct.ID
	info.AccountName = c.acct.Name
	info.LastObjectIDUsed = c.lastID
	info.BlocksSoftLimit = minSoft
	info.BlocksHardLimit = minHard
	info.Enabled = true

	if old != nil {
		info.AccountName = old.AccountName
		info.VersionCountLimit = old.VersionCountLimit
		info.Options = old.Options
		info.Enabled = old.Enabled
		info.ExtraData = append([]byte(nil), old.ExtraData...)
		info.BlocksSoftLimit = old.BlocksSoftLimit
		info.BlocksHardLimit = old.BlocksHardLimit
		for _, diff := range old.Differences(info) {
			c.fault("store info counter was wrong", "change", diff)
		}
		if c.errors > 0 {
			if old.BlocksSoftLimit <= minSoft {
				c.logger.Warn("soft limit raised so housekeeping does not delete files", "soft_limit", minSoft)
				info.BlocksSoftLimit = minSoft
			}
			if old.BlocksHardLimit <= minHard {
				c.logger.Warn("hard limit raised so housekeeping does not delete files", "hard_limit", minHard)
				info.BlocksHardLimit = minHard
			}
		}
		// Any error may mean the client's cached view is wrong.
		if c.errors == 0 {
			info.ClientStoreMarker = old.ClientStoreMarker
		}
	}

	if c.opts.Fix {
		if err := box.SaveStoreInfo(ctx, c.acct.Store, info); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// checkBackupsList repairs session records with impossible end times and
// regenerates an unreadable list from the entries' backup times.
func (c *Checker) checkBackupsList(ctx context.Context, sessions []box.SessionInfo) error {
	list, err := box.LoadBackupsList(ctx, c.acct.Store)
	if err != nil {
		if !errors.Is(err, box.ErrBadBackupsList) {
			return err
		}
		c.fault("backups list is unreadable, regenerating", "error", err)
		list = box.NewBackupsList()
		for _, s := range sessions {
			list.Add(s)
		}
		if !c.opts.Fix {
			return nil
		}
		return box.SaveBackupsList(ctx, c.acct.Store, list)
	}

	changed := false
	for _, s := range list.Sessions() {
		if s.EndTime <= s.StartTime {
			c.logger.Info("session end time repaired", "start", s.StartTime)
			list.Get(s.StartTime).EndTime = s.StartTime + 1000
			changed = true
		}
	}
	if !changed || !c.opts.Fix {
		return nil
	}
	return box.SaveBackupsList(ctx, c.acct.Store, list)
}

func sortedIDs[V any](m map[box.ObjectID]V) []box.ObjectID {
	ids := make([]box.ObjectID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
