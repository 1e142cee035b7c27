package protocol

import (
	"io"

	"boxstore/internal/box"
)

// Reply is the typed answer to a command.
type Reply interface {
	isReply()
}

// Response is a reply plus the stream, if any, that follows it on the
// connection. The transport must close Stream once it has been sent.
type Response struct {
	Reply  Reply
	Stream io.ReadCloser
}

// ErrorReply replaces the reply of a command that failed.
type ErrorReply struct {
	Code ErrorCode
}

type VersionReply struct {
	Version int
}

type LoginConfirmedReply struct {
	ClientStoreMarker int64
	BlocksUsed        int64
	BlocksSoftLimit   int64
	BlocksHardLimit   int64
}

type FinishedReply struct{}

// SuccessReply carries the object ID a command acted on, or 0.
type SuccessReply struct {
	ObjectID box.ObjectID
}

type ObjectInfosReply struct {
	IsDirectory bool
	ContainerID box.ObjectID
}

// NameElementsObjectDoesNotExist is the element count sent when an object
// cannot be named.
const NameElementsObjectDoesNotExist = -1

// ObjectNameReply is followed by a stream of NumNameElements name blocks,
// root first, when the count is positive.
type ObjectNameReply struct {
	NumNameElements  int
	ModificationTime box.Time
	AttributesHash   uint64
	Flags            box.EntryFlags
}

type ObjectName2Reply struct {
	NumNameElements  int
	ModificationTime box.Time
	AttributesHash   uint64
	BackupTime       box.Time
	DeleteTime       box.Time
	Flags            box.EntryFlags
}

type AccountUsageReply struct {
	BlocksUsed           int64
	BlocksInOldFiles     int64
	BlocksInDeletedFiles int64
	BlocksInDirectories  int64
	BlocksSoftLimit      int64
	BlocksHardLimit      int64
	BlockSize            int64
}

type AccountUsage2Reply struct {
	AccountName          string
	AccountEnabled       bool
	ClientStoreMarker    int64
	BlockSize            int64
	LastObjectIDUsed     box.ObjectID
	BlocksUsed           int64
	BlocksInCurrentFiles int64
	BlocksInOldFiles     int64
	BlocksInDeletedFiles int64
	BlocksInDirectories  int64
	BlocksSoftLimit      int64
	BlocksHardLimit      int64
	NumCurrentFiles      int64
	NumOldFiles          int64
	NumDeletedFiles      int64
	NumDirectories       int64
}

// BackupsReply is followed by the serialized backups list.
type BackupsReply struct{}

type IsAliveReply struct{}

func (*ErrorReply) isReply()          {}
func (*VersionReply) isReply()        {}
func (*LoginConfirmedReply) isReply() {}
func (*FinishedReply) isReply()       {}
func (*SuccessReply) isReply()        {}
func (*ObjectInfosReply) isReply()    {}
func (*ObjectNameReply) isReply()     {}
func (*ObjectName2Reply) isReply()    {}
func (*AccountUsageReply) isReply()   {}
func (*AccountUsage2Reply) isReply()  {}
func (*BackupsReply) isReply()        {}
func (*IsAliveReply) isReply()        {}
