package box

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// AddFileRequest describes one upload.
type AddFileRequest struct {
	DirectoryID      ObjectID
	ModificationTime Time
	AttributesHash   uint64
	// DiffFromID is the object the upload is a patch against, 0 for a complete file.
	DiffFromID      ObjectID
	Name            []byte
	MarkSameNameOld bool

	// Resumable keeps a partially received upload for a later session.
	Resumable bool
	// ResumeOffset continues a kept upload at this byte offset.
	ResumeOffset int64
}

// ObjectKind filters ObjectExists.
type ObjectKind int

const (
	ObjectAny ObjectKind = iota
	ObjectFile
	ObjectDirectory
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	IsDirectory bool
	ContainerID ObjectID
}

// AddFile stores an uploaded encoded file in a directory and returns its new
// object ID. A patch upload is combined with the object it was made against
// into a complete new object, and that object is rewritten as a patch
// against the new one.
func (c *StoreContext) AddFile(ctx context.Context, r io.Reader, req AddFileRequest) (ObjectID, error) {
	if err := c.requireWrite(); err != nil {
		return 0, err
	}
	store := c.account.Store

	dir, err := c.getDirectory(ctx, req.DirectoryID)
	if err != nil {
		return 0, err
	}
	c.cache.pin(dir.ObjectID)
	defer c.cache.unpin(dir.ObjectID)

	if req.DiffFromID != 0 {
		e := dir.FindEntryByID(req.DiffFromID)
		if e == nil || !e.IsFile() {
			return 0, fmt.Errorf("%w: object %d", ErrDiffFromFileDoesNotExist, req.DiffFromID)
		}
		n, err := c.account.RefCounts.Get(ctx, req.DiffFromID)
		if err != nil {
			return 0, fmt.Errorf("reading reference count of %d: %w", req.DiffFromID, err)
		}
		if n > 1 {
			return 0, fmt.Errorf("%w: object %d has %d references", ErrMultiplyReferencedObject, req.DiffFromID, n)
		}
	}

	upload, err := c.receiveUpload(ctx, r, req)
	if err != nil {
		return 0, err
	}
	defer c.discard(upload)

	uploadSize, err := upload.Size()
	if err != nil {
		return 0, fmt.Errorf("sizing upload: %w", err)
	}
	uploaded, err := OpenEncodedFile(upload, uploadSize)
	if err != nil {
		return 0, err
	}
	if uploaded.IsPatch() && uploaded.Index.OtherFileID != req.DiffFromID {
		return 0, fmt.Errorf("%w: patch is against object %d, not %d", ErrFileDoesNotVerify, uploaded.Index.OtherFileID, req.DiffFromID)
	}

	newID, err := c.allocateObjectID(ctx)
	if err != nil {
		return 0, err
	}

	content, contentSize := upload, uploadSize
	var (
		reversed     SpoolFile
		reversedSize int64
		fromBlocks   int64
	)
	if uploaded.IsPatch() {
		fromFile, from, err := SpoolObject(ctx, store, c.spool, c.spoolName("base"), req.DiffFromID)
		if err != nil {
			if errors.Is(err, ErrDoesNotExist) {
				return 0, fmt.Errorf("%w: object %d", ErrDiffFromFileDoesNotExist, req.DiffFromID)
			}
			return 0, err
		}
		defer c.discard(fromFile)

		combined, err := c.spool.Create(c.spoolName("combined"))
		if err != nil {
			return 0, fmt.Errorf("creating spool file: %w", err)
		}
		defer c.discard(combined)
		if err := CombineFile(uploaded, from, combined); err != nil {
			return 0, fmt.Errorf("combining patch with %d: %w", req.DiffFromID, err)
		}
		content = combined
		if contentSize, err = combined.Size(); err != nil {
			return 0, fmt.Errorf("sizing combined file: %w", err)
		}

		rev, err := c.spool.Create(c.spoolName("reversed"))
		if err != nil {
			return 0, fmt.Errorf("creating spool file: %w", err)
		}
		defer c.discard(rev)
		different, err := ReverseDiff(uploaded, from, newID, rev)
		if err != nil {
			return 0, fmt.Errorf("reversing %d: %w", req.DiffFromID, err)
		}
		if !different {
			reversed = rev
			if reversedSize, err = rev.Size(); err != nil {
				return 0, fmt.Errorf("sizing reversed file: %w", err)
			}
			fromBlocks = dir.FindEntryByID(req.DiffFromID).SizeInBlocks
		}
	}

	// Quota pre-check against the sizes the objects will have once stored.
	newBlocks := BlocksForSize(contentSize, store.BlockSize())
	var adjust int64
	if reversed != nil {
		adjust = fromBlocks - BlocksForSize(reversedSize, store.BlockSize())
	}
	if c.info.BlocksUsed+newBlocks-adjust > c.info.BlocksHardLimit {
		c.logger.Warn("upload rejected by hard limit",
			"account", fmt.Sprintf("%08x", c.account.ID),
			"blocks_used", c.info.BlocksUsed, "new_blocks", newBlocks, "hard_limit", c.info.BlocksHardLimit)
		return 0, ErrStorageLimitExceeded
	}

	infoBefore := c.info.Clone()
	blocks, err := store.Put(ctx, ObjectKey(newID), io.NewSectionReader(content, 0, contentSize))
	if err != nil {
		return 0, fmt.Errorf("storing object %d: %w", newID, err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if err := store.Delete(ctx, ObjectKey(newID)); err != nil {
			c.logger.Error("removing uncommitted object", "object", newID, "error", err)
		}
		c.info = infoBefore
		c.cache.remove(dir.ObjectID)
	}()

	if req.MarkSameNameOld {
		for i := range dir.Entries {
			e := &dir.Entries[i]
			if e.IsFile() && !e.IsOld() && bytes.Equal(e.Name, req.Name) {
				from := e.Flags
				e.AddFlags(FlagOldVersion)
				c.info.MoveEntry(from, e.Flags, e.SizeInBlocks)
			}
		}
	}

	entry := Entry{
		Name:             append([]byte(nil), req.Name...),
		ModificationTime: req.ModificationTime,
		ObjectID:         newID,
		SizeInBlocks:     blocks,
		AttributesHash:   req.AttributesHash,
		Flags:            FlagFile,
		BackupTime:       TimeFromGo(c.clock.Now()),
	}
	if reversed != nil {
		entry.DependsOlder = req.DiffFromID
	}
	dir.AddEntry(entry)
	if reversed != nil {
		dir.FindEntryByID(req.DiffFromID).DependsNewer = newID
	}
	c.info.BlocksUsed += blocks
	c.info.AccountEntry(FlagFile, blocks, 1)

	if err := c.saveDirectory(ctx, dir); err != nil {
		return 0, err
	}
	committed = true

	if err := c.account.RefCounts.AddReference(ctx, newID); err != nil {
		return 0, fmt.Errorf("adding reference to %d: %w", newID, err)
	}

	// The directory already records the link; until the rewrite lands the
	// old object is still complete, which combines to the same content.
	if reversed != nil {
		rb, err := store.Put(ctx, ObjectKey(req.DiffFromID), io.NewSectionReader(reversed, 0, reversedSize))
		if err != nil {
			return 0, fmt.Errorf("storing reverse diff of %d: %w", req.DiffFromID, err)
		}
		fe := dir.FindEntryByID(req.DiffFromID)
		c.info.BlocksUsed += rb - fe.SizeInBlocks
		c.info.AccountEntry(fe.Flags, fe.SizeInBlocks, -1)
		c.info.AccountEntry(fe.Flags, rb, 1)
		if rb != fe.SizeInBlocks {
			fe.SizeInBlocks = rb
			if err := c.saveDirectory(ctx, dir); err != nil {
				return 0, err
			}
		}
	}

	c.session.RecordAddedFile(blocks)
	c.logger.Debug("file added", "object", newID, "directory", dir.ObjectID, "blocks", blocks, "diff_from", req.DiffFromID)
	return newID, nil
}

// receiveUpload copies the upload stream into a spool file, continuing a
// kept partial upload when ResumeOffset is set.
func (c *StoreContext) receiveUpload(ctx context.Context, r io.Reader, req AddFileRequest) (SpoolFile, error) {
	store := c.account.Store

	var f SpoolFile
	if req.ResumeOffset > 0 {
		ri, err := LoadResumeInfo(ctx, store)
		if err != nil {
			if errors.Is(err, ErrBadResumeInfo) {
				return nil, fmt.Errorf("%w: %v", ErrCannotResumeUpload, err)
			}
			return nil, err
		}
		if ri == nil || ri.AttributesHash != req.AttributesHash {
			return nil, ErrCannotResumeUpload
		}
		f, err = c.spool.Open(ri.SpoolName)
		if err != nil {
			return nil, fmt.Errorf("opening kept upload: %w", err)
		}
		if f == nil {
			return nil, fmt.Errorf("%w: kept upload is gone", ErrCannotResumeUpload)
		}
		size, err := f.Size()
		if err != nil || size != req.ResumeOffset {
			f.Close()
			return nil, fmt.Errorf("%w: kept %d bytes, resuming at %d", ErrCannotResumeUpload, size, req.ResumeOffset)
		}
	} else {
		if err := c.dropResumeInfo(ctx); err != nil {
			return nil, err
		}
		var err error
		f, err = c.spool.Create(c.spoolName("upload"))
		if err != nil {
			return nil, fmt.Errorf("creating spool file: %w", err)
		}
	}

	if _, err := io.Copy(f, r); err != nil {
		if req.Resumable {
			ri := &ResumeInfo{AttributesHash: req.AttributesHash, SpoolName: f.Name()}
			if serr := SaveResumeInfo(ctx, store, ri); serr != nil {
				c.logger.Error("saving resume info", "error", serr)
			}
			f.Close()
		} else {
			c.discard(f)
		}
		return nil, fmt.Errorf("receiving upload: %w", err)
	}

	if req.ResumeOffset > 0 {
		if err := ClearResumeInfo(ctx, store); err != nil {
			c.discard(f)
			return nil, err
		}
	}
	return f, nil
}

// dropResumeInfo discards any kept partial upload.
func (c *StoreContext) dropResumeInfo(ctx context.Context) error {
	ri, err := LoadResumeInfo(ctx, c.account.Store)
	if err != nil && !errors.Is(err, ErrBadResumeInfo) {
		return err
	}
	if ri != nil {
		if err := c.spool.Remove(ri.SpoolName); err != nil {
			c.logger.Warn("removing kept upload", "name", ri.SpoolName, "error", err)
		}
	}
	if ri != nil || err != nil {
		return ClearResumeInfo(ctx, c.account.Store)
	}
	return nil
}

// DeleteFile marks every version of a file Deleted, and RemoveASAP when asap
// is set. It returns the ID of the current version, or 0 if the directory
// has no current file by that name.
func (c *StoreContext) DeleteFile(ctx context.Context, dirID ObjectID, name []byte, asap bool) (ObjectID, error) {
	if err := c.requireWrite(); err != nil {
		return 0, err
	}
	dir, err := c.getDirectory(ctx, dirID)
	if err != nil {
		return 0, err
	}

	now := TimeFromGo(c.clock.Now())
	var found ObjectID
	changed := false
	for i := range dir.Entries {
		e := &dir.Entries[i]
		if !e.IsFile() || e.IsDeleted() || !bytes.Equal(e.Name, name) {
			continue
		}
		from := e.Flags
		e.AddFlags(FlagDeleted)
		if asap {
			e.AddFlags(FlagRemoveASAP)
		}
		e.DeleteTime = now
		c.info.MoveEntry(from, e.Flags, e.SizeInBlocks)
		if !from.Has(FlagOldVersion) {
			found = e.ObjectID
			c.session.RecordDeletedFile(e.SizeInBlocks)
		}
		changed = true
	}
	if !changed {
		return 0, nil
	}
	if err := c.saveDirectory(ctx, dir); err != nil {
		return 0, err
	}
	return found, nil
}

// UndeleteFile clears the Deleted flag of one file. It reports false, without
// error, if the object is not a deleted file in the directory. The restored
// version becomes current unless another current version exists.
func (c *StoreContext) UndeleteFile(ctx context.Context, dirID, id ObjectID) (bool, error) {
	if err := c.requireWrite(); err != nil {
		return false, err
	}
	dir, err := c.getDirectory(ctx, dirID)
	if err != nil {
		return false, err
	}
	e := dir.FindEntryByID(id)
	if e == nil || !e.IsFile() || !e.IsDeleted() {
		return false, nil
	}

	from := e.Flags
	e.RemoveFlags(FlagDeleted | FlagRemoveASAP)
	e.DeleteTime = 0
	if cur := dir.FindCurrentEntry(e.Name, FlagFile); cur != nil && cur.ObjectID != id {
		e.AddFlags(FlagOldVersion)
	} else {
		e.RemoveFlags(FlagOldVersion)
	}
	c.info.MoveEntry(from, e.Flags, e.SizeInBlocks)

	if err := c.saveDirectory(ctx, dir); err != nil {
		return false, err
	}
	return true, nil
}

// ChangeFileAttributes replaces the attributes of the current version of a
// file and returns its ID.
func (c *StoreContext) ChangeFileAttributes(ctx context.Context, dirID ObjectID, name, attrs []byte, attrHash uint64) (ObjectID, error) {
	if err := c.requireWrite(); err != nil {
		return 0, err
	}
	dir, err := c.getDirectory(ctx, dirID)
	if err != nil {
		return 0, err
	}
	e := dir.FindCurrentEntry(name, FlagFile)
	if e == nil {
		return 0, ErrDoesNotExistInDirectory
	}
	e.Attributes = append([]byte(nil), attrs...)
	e.AttributesHash = attrHash
	id := e.ObjectID
	if err := c.saveDirectory(ctx, dir); err != nil {
		return 0, err
	}
	return id, nil
}

// GetFile returns a file version in stream order, rebuilding it from the
// chain of patches leading to the newest complete version. The returned
// reader owns temporary files and must be closed.
func (c *StoreContext) GetFile(ctx context.Context, dirID, id ObjectID) (io.ReadCloser, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	dir, err := c.getDirectory(ctx, dirID)
	if err != nil {
		return nil, err
	}
	e := dir.FindEntryByID(id)
	if e == nil || !e.IsFile() {
		return nil, fmt.Errorf("%w: object %d in directory %d", ErrDoesNotExistInDirectory, id, dirID)
	}

	f, ef, err := RebuildObject(ctx, c.account.Store, c.spool, dir, id, func() string { return c.spoolName("get") })
	if err != nil {
		return nil, err
	}
	r, err := ef.StreamOrder()
	if err != nil {
		c.discard(f)
		return nil, err
	}
	return &spoolReader{Reader: r, file: f, spool: c.spool}, nil
}

// RebuildObject materializes file version id of dir as a complete file in a
// new spool file, applying the chain of patches that leads back from the
// newest complete version. newName returns a fresh spool file name on each
// call. The caller owns the returned file.
func RebuildObject(ctx context.Context, bs BlobStore, sp Spool, dir *Directory, id ObjectID, newName func() string) (SpoolFile, *EncodedFile, error) {
	e := dir.FindEntryByID(id)
	if e == nil || !e.IsFile() {
		return nil, nil, fmt.Errorf("%w: object %d in directory %d", ErrDoesNotExistInDirectory, id, dir.ObjectID)
	}

	chain := []ObjectID{id}
	for cur := e; cur.DependsNewer != 0; {
		if len(chain) > len(dir.Entries) {
			return nil, nil, fmt.Errorf("%w: loop through object %d", ErrPatchChainBroken, id)
		}
		next := dir.FindEntryByID(cur.DependsNewer)
		if next == nil {
			return nil, nil, fmt.Errorf("%w: object %d depends on missing %d", ErrPatchChainBroken, cur.ObjectID, cur.DependsNewer)
		}
		chain = append(chain, next.ObjectID)
		cur = next
	}

	accFile, acc, err := SpoolObject(ctx, bs, sp, newName(), chain[len(chain)-1])
	if err != nil {
		return nil, nil, err
	}
	if acc.IsPatch() {
		DiscardSpoolFile(sp, accFile)
		return nil, nil, fmt.Errorf("%w: newest object %d is a patch", ErrPatchChainBroken, chain[len(chain)-1])
	}

	for p := len(chain) - 2; p >= 0; p-- {
		patchFile, patch, err := SpoolObject(ctx, bs, sp, newName(), chain[p])
		if err != nil {
			DiscardSpoolFile(sp, accFile)
			return nil, nil, err
		}
		if patch.IsPatch() && patch.Index.OtherFileID != chain[p+1] {
			DiscardSpoolFile(sp, patchFile)
			DiscardSpoolFile(sp, accFile)
			return nil, nil, fmt.Errorf("%w: object %d is a patch against %d, expected %d",
				ErrPatchChainBroken, chain[p], patch.Index.OtherFileID, chain[p+1])
		}

		out, err := sp.Create(newName())
		if err == nil {
			err = CombineFile(patch, acc, out)
		}
		DiscardSpoolFile(sp, patchFile)
		DiscardSpoolFile(sp, accFile)
		if err != nil {
			if out != nil {
				DiscardSpoolFile(sp, out)
			}
			return nil, nil, fmt.Errorf("rebuilding object %d: %w", chain[p], err)
		}

		size, err := out.Size()
		if err == nil {
			acc, err = OpenEncodedFile(out, size)
		}
		if err != nil {
			DiscardSpoolFile(sp, out)
			return nil, nil, fmt.Errorf("rebuilding object %d: %w", chain[p], err)
		}
		accFile = out
	}
	return accFile, acc, nil
}

// GetBlockIndex returns the block index of a stored file object.
func (c *StoreContext) GetBlockIndex(ctx context.Context, id ObjectID) ([]byte, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	f, ef, err := SpoolObject(ctx, c.account.Store, c.spool, c.spoolName("index"), id)
	if err != nil {
		return nil, err
	}
	defer c.discard(f)

	var buf bytes.Buffer
	if err := ef.WriteBlockIndex(&buf); err != nil {
		return nil, fmt.Errorf("writing block index of %d: %w", id, err)
	}
	return buf.Bytes(), nil
}

// FindFileByName returns the highest object ID among the file entries named
// name, or 0 if there are none.
func (c *StoreContext) FindFileByName(ctx context.Context, dirID ObjectID, name []byte) (ObjectID, error) {
	if err := c.requireLogin(); err != nil {
		return 0, err
	}
	dir, err := c.getDirectory(ctx, dirID)
	if err != nil {
		return 0, err
	}
	var best ObjectID
	for i := range dir.Entries {
		e := &dir.Entries[i]
		if e.IsFile() && bytes.Equal(e.Name, name) && e.ObjectID > best {
			best = e.ObjectID
		}
	}
	return best, nil
}

// OpenObject returns the stored bytes of an object.
func (c *StoreContext) OpenObject(ctx context.Context, id ObjectID) (io.ReadCloser, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	rc, err := c.account.Store.Get(ctx, ObjectKey(id))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, fmt.Errorf("%w: object %d", ErrDoesNotExist, id)
		}
		return nil, fmt.Errorf("opening object %d: %w", id, err)
	}
	return rc, nil
}

// ObjectExists reports whether an object of the given kind is stored under id.
func (c *StoreContext) ObjectExists(ctx context.Context, id ObjectID, kind ObjectKind) (bool, error) {
	if err := c.requireLogin(); err != nil {
		return false, err
	}
	if kind == ObjectAny {
		return c.account.Store.Exists(ctx, ObjectKey(id))
	}

	rc, err := c.account.Store.Get(ctx, ObjectKey(id))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("opening object %d: %w", id, err)
	}
	defer rc.Close()

	head, err := bufio.NewReader(rc).Peek(4)
	if err != nil {
		return false, nil
	}
	magic := binary.BigEndian.Uint32(head)
	if kind == ObjectDirectory {
		return IsDirectoryMagic(magic), nil
	}
	return magic == FileMagic, nil
}

// GetObjectInfos returns whether id is a directory and the container it
// belongs to.
func (c *StoreContext) GetObjectInfos(ctx context.Context, id ObjectID) (*ObjectInfo, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	return ReadObjectInfo(ctx, c.account.Store, id)
}

// ReadObjectInfo classifies a stored object from its header.
func ReadObjectInfo(ctx context.Context, bs BlobStore, id ObjectID) (*ObjectInfo, error) {
	rc, err := bs.Get(ctx, ObjectKey(id))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, fmt.Errorf("%w: object %d", ErrDoesNotExist, id)
		}
		return nil, fmt.Errorf("opening object %d: %w", id, err)
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: object %d is truncated", ErrFileDoesNotVerify, id)
	}
	if IsDirectoryMagic(binary.BigEndian.Uint32(head)) {
		d, err := DeserializeDirectory(br)
		if err != nil {
			return nil, fmt.Errorf("reading directory %d: %w", id, err)
		}
		return &ObjectInfo{IsDirectory: true, ContainerID: d.ContainerID}, nil
	}
	h, err := ReadFileHeader(br)
	if err != nil {
		return nil, fmt.Errorf("reading object %d: %w", id, err)
	}
	return &ObjectInfo{ContainerID: h.ContainerID}, nil
}

// SpoolObject copies a stored file object into a new spool file and parses it.
func SpoolObject(ctx context.Context, bs BlobStore, sp Spool, name string, id ObjectID) (SpoolFile, *EncodedFile, error) {
	rc, err := bs.Get(ctx, ObjectKey(id))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, nil, fmt.Errorf("%w: object %d", ErrDoesNotExist, id)
		}
		return nil, nil, fmt.Errorf("opening object %d: %w", id, err)
	}
	defer rc.Close()

	f, err := sp.Create(name)
	if err != nil {
		return nil, nil, fmt.Errorf("creating spool file: %w", err)
	}
	fail := func(err error) (SpoolFile, *EncodedFile, error) {
		DiscardSpoolFile(sp, f)
		return nil, nil, err
	}
	if _, err := io.Copy(f, rc); err != nil {
		return fail(fmt.Errorf("reading object %d: %w", id, err))
	}
	size, err := f.Size()
	if err != nil {
		return fail(fmt.Errorf("sizing object %d: %w", id, err))
	}
	ef, err := OpenEncodedFile(f, size)
	if err != nil {
		return fail(fmt.Errorf("object %d: %w", id, err))
	}
	return f, ef, nil
}

// DiscardSpoolFile closes and removes a spool file.
func DiscardSpoolFile(sp Spool, f SpoolFile) error {
	name := f.Name()
	cerr := f.Close()
	if err := sp.Remove(name); err != nil {
		return fmt.Errorf("removing spool file %s: %w", name, err)
	}
	return cerr
}

func (c *StoreContext) discard(f SpoolFile) {
	if err := DiscardSpoolFile(c.spool, f); err != nil {
		c.logger.Warn("discarding spool file", "error", err)
	}
}

func (c *StoreContext) spoolName(kind string) string {
	return kind + "-" + c.idgen.New()
}

// spoolReader streams from a spool file and removes it on Close.
type spoolReader struct {
	io.Reader
	file  SpoolFile
	spool Spool
}

func (r *spoolReader) Close() error {
	return DiscardSpoolFile(r.spool, r.file)
}
