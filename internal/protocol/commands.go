package protocol

import (
	"io"

	"boxstore/internal/box"
)

// Command is a request from a client. Commands are executed by a Dispatcher.
type Command interface {
	// Name identifies the command in logs and metrics.
	Name() string
}

// Login flags.
const (
	LoginReadOnly uint32 = 1
)

// MoveObject flags.
const (
	MoveAllWithSameName        uint32 = 1
	AllowMoveOverDeletedObject uint32 = 2
)

// VersionCommand negotiates the protocol version.
type VersionCommand struct {
	Version int
}

// LoginCommand opens the account.
type LoginCommand struct {
	ClientID uint32
	Flags    uint32
}

// FinishedCommand ends the session. It is accepted in any phase.
type FinishedCommand struct{}

// ListDirectoryCommand streams a directory listing.
type ListDirectoryCommand struct {
	ObjectID        box.ObjectID
	FlagsMustBeSet  box.EntryFlags
	FlagsNotToBeSet box.EntryFlags
	SendAttributes  bool
	// SnapshotTime lists the directory as it was at this time. Zero lists
	// it as it is now.
	SnapshotTime box.Time
}

// StoreFileCommand uploads an encoded file read from Data.
type StoreFileCommand struct {
	DirectoryID      box.ObjectID
	ModificationTime box.Time
	AttributesHash   uint64
	DiffFromFileID   box.ObjectID
	Filename         []byte
	Data             io.Reader
}

// StoreFileWithResumeCommand is StoreFileCommand for an upload that may be
// interrupted and continued at ResumeOffset by a later session.
type StoreFileWithResumeCommand struct {
	StoreFileCommand
	ResumeOffset int64
}

// GetObjectCommand streams the stored bytes of an object.
type GetObjectCommand struct {
	ObjectID box.ObjectID
}

// GetFileCommand streams a file version in stream order.
type GetFileCommand struct {
	InDirectory box.ObjectID
	ObjectID    box.ObjectID
}

// CreateDirectoryCommand creates a directory whose modification time is its
// attributes modification time.
type CreateDirectoryCommand struct {
	ContainerID       box.ObjectID
	AttributesModTime box.Time
	DirName           []byte
	Attributes        []byte
}

// CreateDirectory2Command creates a directory with an explicit modification
// time. It fails if the directory exists.
type CreateDirectory2Command struct {
	ContainerID       box.ObjectID
	AttributesModTime box.Time
	ModificationTime  box.Time
	DirName           []byte
	Attributes        []byte
}

type ChangeDirAttributesCommand struct {
	ObjectID          box.ObjectID
	AttributesModTime box.Time
	Attributes        []byte
}

type ChangeDirAttributes2Command struct {
	ObjectID          box.ObjectID
	AttributesModTime box.Time
	ModificationTime  box.Time
	Attributes        []byte
}

type SetReplacementFileAttributesCommand struct {
	InDirectory    box.ObjectID
	AttributesHash uint64
	Filename       []byte
	Attributes     []byte
}

type DeleteFileCommand struct {
	InDirectory box.ObjectID
	Filename    []byte
}

// DeleteFileASAPCommand deletes a file and asks housekeeping to remove it
// at the next run.
type DeleteFileASAPCommand struct {
	InDirectory box.ObjectID
	Filename    []byte
}

type UndeleteFileCommand struct {
	InDirectory box.ObjectID
	ObjectID    box.ObjectID
}

type DeleteDirectoryCommand struct {
	ObjectID box.ObjectID
}

type DeleteDirectoryASAPCommand struct {
	ObjectID box.ObjectID
}

type UndeleteDirectoryCommand struct {
	ObjectID box.ObjectID
}

type SetClientStoreMarkerCommand struct {
	ClientStoreMarker int64
}

type MoveObjectCommand struct {
	ObjectID          box.ObjectID
	MoveFromDirectory box.ObjectID
	MoveToDirectory   box.ObjectID
	Flags             uint32
	NewFilename       []byte
}

type GetObjectInfosCommand struct {
	ObjectID box.ObjectID
}

// GetObjectNameCommand names an object by walking up from
// ContainingDirectoryID. ObjectID may be box.ObjectIDDirectoryOnly.
type GetObjectNameCommand struct {
	ObjectID              box.ObjectID
	ContainingDirectoryID box.ObjectID
}

// GetObjectName2Command is GetObjectNameCommand with backup and delete
// times in the reply.
type GetObjectName2Command struct {
	ObjectID              box.ObjectID
	ContainingDirectoryID box.ObjectID
}

type GetBlockIndexByIDCommand struct {
	ObjectID box.ObjectID
}

// GetBlockIndexByNameCommand streams the block index of the newest file
// named Filename.
type GetBlockIndexByNameCommand struct {
	InDirectory box.ObjectID
	Filename    []byte
}

type GetAccountUsageCommand struct{}

type GetAccountUsage2Command struct{}

type ListBackupsCommand struct{}

// GetIsAliveCommand is a keepalive.
type GetIsAliveCommand struct{}

func (*VersionCommand) Name() string                      { return "Version" }
func (*LoginCommand) Name() string                        { return "Login" }
func (*FinishedCommand) Name() string                     { return "Finished" }
func (*ListDirectoryCommand) Name() string                { return "ListDirectory" }
func (*StoreFileCommand) Name() string                    { return "StoreFile" }
func (*StoreFileWithResumeCommand) Name() string          { return "StoreFileWithResume" }
func (*GetObjectCommand) Name() string                    { return "GetObject" }
func (*GetFileCommand) Name() string                      { return "GetFile" }
func (*CreateDirectoryCommand) Name() string              { return "CreateDirectory" }
func (*CreateDirectory2Command) Name() string             { return "CreateDirectory2" }
func (*ChangeDirAttributesCommand) Name() string          { return "ChangeDirAttributes" }
func (*ChangeDirAttributes2Command) Name() string         { return "ChangeDirAttributes2" }
func (*SetReplacementFileAttributesCommand) Name() string { return "SetReplacementFileAttributes" }
func (*DeleteFileCommand) Name() string                   { return "DeleteFile" }
func (*DeleteFileASAPCommand) Name() string               { return "DeleteFileASAP" }
func (*UndeleteFileCommand) Name() string                 { return "UndeleteFile" }
func (*DeleteDirectoryCommand) Name() string              { return "DeleteDirectory" }
func (*DeleteDirectoryASAPCommand) Name() string          { return "DeleteDirectoryASAP" }
func (*UndeleteDirectoryCommand) Name() string            { return "UndeleteDirectory" }
func (*SetClientStoreMarkerCommand) Name() string         { return "SetClientStoreMarker" }
func (*MoveObjectCommand) Name() string                   { return "MoveObject" }
func (*GetObjectInfosCommand) Name() string               { return "GetObjectInfos" }
func (*GetObjectNameCommand) Name() string                { return "GetObjectName" }
func (*GetObjectName2Command) Name() string               { return "GetObjectName2" }
func (*GetBlockIndexByIDCommand) Name() string            { return "GetBlockIndexByID" }
func (*GetBlockIndexByNameCommand) Name() string          { return "GetBlockIndexByName" }
func (*GetAccountUsageCommand) Name() string              { return "GetAccountUsage" }
func (*GetAccountUsage2Command) Name() string             { return "GetAccountUsage2" }
func (*ListBackupsCommand) Name() string                  { return "ListBackups" }
func (*GetIsAliveCommand) Name() string                   { return "GetIsAlive" }
