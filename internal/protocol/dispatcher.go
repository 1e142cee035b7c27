package protocol

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"boxstore/internal/box"
)

// Recorder receives the outcome of every command. Result is "ok", the
// name of the error code sent, or "fatal".
type Recorder interface {
	CommandHandled(command, result string, elapsed time.Duration)
}

// TestHook may answer a command in place of the store. It runs after the
// phase and session checks; a nil reply lets the command run normally.
type TestHook func(ctx context.Context, cmd Command) Reply

// Dispatcher executes the commands of one connection against its
// StoreContext. Like the context, it is not safe for concurrent use.
type Dispatcher struct {
	store    *box.StoreContext
	logger   box.Logger
	clock    box.Clock
	recorder Recorder
	hook     TestHook
}

// NewDispatcher creates a dispatcher for store.
func NewDispatcher(store *box.StoreContext, logger box.Logger, clock box.Clock) *Dispatcher {
	return &Dispatcher{store: store, logger: logger, clock: clock}
}

// SetRecorder installs a metrics recorder.
func (d *Dispatcher) SetRecorder(r Recorder) { d.recorder = r }

// SetTestHook installs a hook that can short-circuit commands.
func (d *Dispatcher) SetTestHook(h TestHook) { d.hook = h }

// Handle executes cmd. Store errors with a protocol code are returned as an
// ErrorReply; any other error is returned as is and ends the session.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) (*Response, error) {
	start := d.clock.Now()
	resp, err := d.dispatch(ctx, cmd)
	result := "ok"
	if err != nil {
		code, ok := CodeFor(err)
		if !ok {
			d.logger.Error("command failed", "command", cmd.Name(), "account", d.account(), "error", err)
			d.record(cmd, "fatal", start)
			return nil, fmt.Errorf("%s: %w", cmd.Name(), err)
		}
		d.logger.Warn("command refused", "command", cmd.Name(), "account", d.account(), "code", code.String(), "error", err)
		resp = &Response{Reply: &ErrorReply{Code: code}}
		result = code.String()
	}
	d.record(cmd, result, start)
	return resp, nil
}

func (d *Dispatcher) account() string {
	return fmt.Sprintf("%08x", d.store.AccountID())
}

func (d *Dispatcher) record(cmd Command, result string, start time.Time) {
	if d.recorder != nil {
		d.recorder.CommandHandled(cmd.Name(), result, d.clock.Now().Sub(start))
	}
}

// check validates the phase and, for commands that change the store, the
// session mode. Version, Login and Finished check their own phase.
func (d *Dispatcher) check(cmd Command) error {
	switch cmd.(type) {
	case *VersionCommand, *LoginCommand, *FinishedCommand:
		return nil
	}
	if d.store.Phase() != box.PhaseCommands {
		return box.ErrNotInRightProtocolPhase
	}
	if writes(cmd) && d.store.ReadOnly() {
		return box.ErrSessionReadOnly
	}
	return nil
}

func writes(cmd Command) bool {
	switch cmd.(type) {
	case *StoreFileCommand, *StoreFileWithResumeCommand,
		*CreateDirectoryCommand, *CreateDirectory2Command,
		*ChangeDirAttributesCommand, *ChangeDirAttributes2Command,
		*SetReplacementFileAttributesCommand,
		*DeleteFileCommand, *DeleteFileASAPCommand, *UndeleteFileCommand,
		*DeleteDirectoryCommand, *DeleteDirectoryASAPCommand, *UndeleteDirectoryCommand,
		*SetClientStoreMarkerCommand, *MoveObjectCommand:
		return true
	}
	return false
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd Command) (*Response, error) {
	if err := d.check(cmd); err != nil {
		return nil, err
	}
	if d.hook != nil && d.store.Phase() == box.PhaseCommands {
		if r := d.hook(ctx, cmd); r != nil {
			return &Response{Reply: r}, nil
		}
	}

	switch c := cmd.(type) {
	case *VersionCommand:
		if err := d.store.Version(c.Version); err != nil {
			return nil, err
		}
		return reply(&VersionReply{Version: c.Version}), nil

	case *LoginCommand:
		res, err := d.store.Login(ctx, c.ClientID, c.Flags&LoginReadOnly != 0)
		if err != nil {
			return nil, err
		}
		return reply(&LoginConfirmedReply{
			ClientStoreMarker: res.ClientStoreMarker,
			BlocksUsed:        res.BlocksUsed,
			BlocksSoftLimit:   res.BlocksSoftLimit,
			BlocksHardLimit:   res.BlocksHardLimit,
		}), nil

	case *FinishedCommand:
		if err := d.store.Finish(ctx); err != nil {
			return nil, err
		}
		return reply(&FinishedReply{}), nil

	case *ListDirectoryCommand:
		r, err := d.store.ListDirectory(ctx, c.ObjectID, box.SerializeOptions{
			FlagsMustBeSet:  c.FlagsMustBeSet,
			FlagsNotToBeSet: c.FlagsNotToBeSet,
			SnapshotTime:    c.SnapshotTime,
			StripAttributes: !c.SendAttributes,
		})
		if err != nil {
			return nil, err
		}
		return stream(&SuccessReply{ObjectID: c.ObjectID}, io.NopCloser(r)), nil

	case *StoreFileCommand:
		return d.storeFile(ctx, c, box.AddFileRequest{})

	case *StoreFileWithResumeCommand:
		return d.storeFile(ctx, &c.StoreFileCommand, box.AddFileRequest{
			Resumable:    true,
			ResumeOffset: c.ResumeOffset,
		})

	case *GetObjectCommand:
		if err := d.requireObject(ctx, c.ObjectID, box.ObjectAny, box.ErrDoesNotExist); err != nil {
			return nil, err
		}
		rc, err := d.store.OpenObject(ctx, c.ObjectID)
		if err != nil {
			return nil, err
		}
		return stream(&SuccessReply{ObjectID: c.ObjectID}, rc), nil

	case *GetFileCommand:
		if err := d.requireObject(ctx, c.ObjectID, box.ObjectAny, box.ErrDoesNotExist); err != nil {
			return nil, err
		}
		if err := d.requireObject(ctx, c.InDirectory, box.ObjectAny, box.ErrDoesNotExist); err != nil {
			return nil, err
		}
		rc, err := d.store.GetFile(ctx, c.InDirectory, c.ObjectID)
		if err != nil {
			return nil, err
		}
		return stream(&SuccessReply{ObjectID: c.ObjectID}, rc), nil

	case *CreateDirectoryCommand:
		return d.createDirectory(ctx, c.ContainerID, c.DirName, c.Attributes, c.AttributesModTime, c.AttributesModTime)

	case *CreateDirectory2Command:
		return d.createDirectory(ctx, c.ContainerID, c.DirName, c.Attributes, c.AttributesModTime, c.ModificationTime)

	case *ChangeDirAttributesCommand:
		if err := d.store.ChangeDirAttributes(ctx, c.ObjectID, c.Attributes, c.AttributesModTime, 0); err != nil {
			return nil, err
		}
		return success(c.ObjectID), nil

	case *ChangeDirAttributes2Command:
		if err := d.store.ChangeDirAttributes(ctx, c.ObjectID, c.Attributes, c.AttributesModTime, c.ModificationTime); err != nil {
			return nil, err
		}
		return success(c.ObjectID), nil

	case *SetReplacementFileAttributesCommand:
		id, err := d.store.ChangeFileAttributes(ctx, c.InDirectory, c.Filename, c.Attributes, c.AttributesHash)
		if errors.Is(err, box.ErrDoesNotExistInDirectory) {
			return nil, fmt.Errorf("%w: no current file %q", box.ErrDoesNotExist, c.Filename)
		}
		if err != nil {
			return nil, err
		}
		return success(id), nil

	case *DeleteFileCommand:
		id, err := d.store.DeleteFile(ctx, c.InDirectory, c.Filename, false)
		if err != nil {
			return nil, err
		}
		return success(id), nil

	case *DeleteFileASAPCommand:
		id, err := d.store.DeleteFile(ctx, c.InDirectory, c.Filename, true)
		if err != nil {
			return nil, err
		}
		return success(id), nil

	case *UndeleteFileCommand:
		ok, err := d.store.UndeleteFile(ctx, c.InDirectory, c.ObjectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return success(0), nil
		}
		return success(c.ObjectID), nil

	case *DeleteDirectoryCommand:
		return d.deleteDirectory(ctx, c.ObjectID, false, false)

	case *DeleteDirectoryASAPCommand:
		return d.deleteDirectory(ctx, c.ObjectID, false, true)

	case *UndeleteDirectoryCommand:
		return d.deleteDirectory(ctx, c.ObjectID, true, false)

	case *SetClientStoreMarkerCommand:
		if err := d.store.SetClientStoreMarker(ctx, c.ClientStoreMarker); err != nil {
			return nil, err
		}
		return success(box.ObjectID(c.ClientStoreMarker)), nil

	case *MoveObjectCommand:
		err := d.store.MoveObject(ctx, box.MoveRequest{
			ObjectID:             c.ObjectID,
			FromDir:              c.MoveFromDirectory,
			ToDir:                c.MoveToDirectory,
			NewName:              c.NewFilename,
			MoveAllWithSameName:  c.Flags&MoveAllWithSameName != 0,
			AllowMoveOverDeleted: c.Flags&AllowMoveOverDeletedObject != 0,
		})
		if err != nil {
			return nil, err
		}
		return success(c.ObjectID), nil

	case *GetObjectInfosCommand:
		info, err := d.store.GetObjectInfos(ctx, c.ObjectID)
		if err != nil {
			return nil, err
		}
		return reply(&ObjectInfosReply{IsDirectory: info.IsDirectory, ContainerID: info.ContainerID}), nil

	case *GetObjectNameCommand:
		name, err := d.store.GetObjectName(ctx, c.ObjectID, c.ContainingDirectoryID)
		if err != nil {
			return nil, err
		}
		if name == nil {
			return reply(&ObjectNameReply{NumNameElements: NameElementsObjectDoesNotExist}), nil
		}
		return nameResponse(name, &ObjectNameReply{
			NumNameElements:  len(name.Elements),
			ModificationTime: name.ModificationTime,
			AttributesHash:   name.AttributesHash,
			Flags:            name.Flags,
		}), nil

	case *GetObjectName2Command:
		name, err := d.store.GetObjectName(ctx, c.ObjectID, c.ContainingDirectoryID)
		if err != nil {
			return nil, err
		}
		if name == nil {
			return reply(&ObjectName2Reply{NumNameElements: NameElementsObjectDoesNotExist}), nil
		}
		return nameResponse(name, &ObjectName2Reply{
			NumNameElements:  len(name.Elements),
			ModificationTime: name.ModificationTime,
			AttributesHash:   name.AttributesHash,
			BackupTime:       name.BackupTime,
			DeleteTime:       name.DeleteTime,
			Flags:            name.Flags,
		}), nil

	case *GetBlockIndexByIDCommand:
		return d.blockIndex(ctx, c.ObjectID)

	case *GetBlockIndexByNameCommand:
		id, err := d.store.FindFileByName(ctx, c.InDirectory, c.Filename)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return success(0), nil
		}
		return d.blockIndex(ctx, id)

	case *GetAccountUsageCommand:
		info, err := d.store.StoreInfo()
		if err != nil {
			return nil, err
		}
		return reply(&AccountUsageReply{
			BlocksUsed:           info.BlocksUsed,
			BlocksInOldFiles:     info.BlocksInOldFiles,
			BlocksInDeletedFiles: info.BlocksInDeletedFiles,
			BlocksInDirectories:  info.BlocksInDirectories,
			BlocksSoftLimit:      info.BlocksSoftLimit,
			BlocksHardLimit:      info.BlocksHardLimit,
			BlockSize:            d.store.BlockSize(),
		}), nil

	case *GetAccountUsage2Command:
		info, err := d.store.StoreInfo()
		if err != nil {
			return nil, err
		}
		return reply(&AccountUsage2Reply{
			AccountName:          info.AccountName,
			AccountEnabled:       info.Enabled,
			ClientStoreMarker:    info.ClientStoreMarker,
			BlockSize:            d.store.BlockSize(),
			LastObjectIDUsed:     info.LastObjectIDUsed,
			BlocksUsed:           info.BlocksUsed,
			BlocksInCurrentFiles: info.BlocksInCurrentFiles,
			BlocksInOldFiles:     info.BlocksInOldFiles,
			BlocksInDeletedFiles: info.BlocksInDeletedFiles,
			BlocksInDirectories:  info.BlocksInDirectories,
			BlocksSoftLimit:      info.BlocksSoftLimit,
			BlocksHardLimit:      info.BlocksHardLimit,
			NumCurrentFiles:      info.NumCurrentFiles,
			NumOldFiles:          info.NumOldFiles,
			NumDeletedFiles:      info.NumDeletedFiles,
			NumDirectories:       info.NumDirectories,
		}), nil

	case *ListBackupsCommand:
		sessions, err := d.store.ListBackups(ctx)
		if err != nil {
			return nil, err
		}
		list := box.NewBackupsList()
		for _, s := range sessions {
			list.Add(s)
		}
		var buf bytes.Buffer
		if err := list.Serialize(&buf); err != nil {
			return nil, fmt.Errorf("serializing backups list: %w", err)
		}
		return stream(&BackupsReply{}, io.NopCloser(&buf)), nil

	case *GetIsAliveCommand:
		return reply(&IsAliveReply{}), nil

	default:
		return nil, fmt.Errorf("unknown command %T", cmd)
	}
}

func (d *Dispatcher) storeFile(ctx context.Context, c *StoreFileCommand, req box.AddFileRequest) (*Response, error) {
	if c.DiffFromFileID != 0 {
		if err := d.requireObject(ctx, c.DiffFromFileID, box.ObjectFile, box.ErrDiffFromFileDoesNotExist); err != nil {
			return nil, err
		}
	}
	req.DirectoryID = c.DirectoryID
	req.ModificationTime = c.ModificationTime
	req.AttributesHash = c.AttributesHash
	req.DiffFromID = c.DiffFromFileID
	req.Name = c.Filename
	req.MarkSameNameOld = true

	id, err := d.store.AddFile(ctx, c.Data, req)
	if err != nil {
		return nil, err
	}
	return success(id), nil
}

// createDirectory refuses new directories once the hard limit is passed.
func (d *Dispatcher) createDirectory(ctx context.Context, parent box.ObjectID, name, attrs []byte, attrModTime, modTime box.Time) (*Response, error) {
	info, err := d.store.StoreInfo()
	if err != nil {
		return nil, err
	}
	if info.BlocksUsed > info.BlocksHardLimit {
		return nil, fmt.Errorf("%w: %d blocks used, hard limit %d", box.ErrStorageLimitExceeded, info.BlocksUsed, info.BlocksHardLimit)
	}
	id, exists, err := d.store.AddDirectory(ctx, parent, name, attrs, attrModTime, modTime)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %q is object %d", box.ErrDirectoryAlreadyExists, name, id)
	}
	return success(id), nil
}

func (d *Dispatcher) deleteDirectory(ctx context.Context, id box.ObjectID, undelete, asap bool) (*Response, error) {
	if err := d.store.DeleteDirectory(ctx, id, undelete, asap); err != nil {
		return nil, err
	}
	return success(id), nil
}

func (d *Dispatcher) blockIndex(ctx context.Context, id box.ObjectID) (*Response, error) {
	data, err := d.store.GetBlockIndex(ctx, id)
	if err != nil {
		return nil, err
	}
	return stream(&SuccessReply{ObjectID: id}, io.NopCloser(bytes.NewReader(data))), nil
}

// requireObject returns notFound unless an object of the given kind exists.
func (d *Dispatcher) requireObject(ctx context.Context, id box.ObjectID, kind box.ObjectKind, notFound error) error {
	ok, err := d.store.ObjectExists(ctx, id, kind)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: object %d", notFound, id)
	}
	return nil
}

// nameResponse attaches the name elements, each a length-prefixed block,
// when there are any.
func nameResponse(name *box.ObjectName, r Reply) *Response {
	if len(name.Elements) == 0 {
		return reply(r)
	}
	var buf bytes.Buffer
	for _, el := range name.Elements {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(el)))
		buf.Write(n[:])
		buf.Write(el)
	}
	return stream(r, io.NopCloser(&buf))
}

func reply(r Reply) *Response { return &Response{Reply: r} }

func success(id box.ObjectID) *Response { return reply(&SuccessReply{ObjectID: id}) }

func stream(r Reply, s io.ReadCloser) *Response { return &Response{Reply: r, Stream: s} }
