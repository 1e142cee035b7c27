package box

import "time"

// ObjectID identifies a stored object within an account. IDs are allocated
// monotonically from StoreInfo.LastObjectIDUsed and never reused.
type ObjectID int64

// RootDirectoryID is the reserved ID of an account's root directory.
const RootDirectoryID ObjectID = 1

// ObjectIDDirectoryOnly asks GetObjectName for the name of a directory itself.
const ObjectIDDirectoryOnly ObjectID = 0

// Time is a timestamp in microseconds since the Unix epoch.
type Time int64

// TimeFromGo converts a time.Time to a Time.
func TimeFromGo(t time.Time) Time {
	return Time(t.UnixMicro())
}

// Go converts t back to a time.Time in UTC.
func (t Time) Go() time.Time {
	return time.UnixMicro(int64(t)).UTC()
}

// Protocol versions understood by the store.
const (
	ProtocolV1 = 0
	ProtocolV2 = 1

	CurrentProtocolVersion = ProtocolV2
)

// Phase is the protocol state of a session. Phases only move forward.
type Phase int

const (
	PhaseVersion Phase = iota
	PhaseLogin
	PhaseCommands
)

func (p Phase) String() string {
	switch p {
	case PhaseVersion:
		return "version"
	case PhaseLogin:
		return "login"
	case PhaseCommands:
		return "commands"
	default:
		return "unknown"
	}
}

// Account options, stored in StoreInfo.Options.
const (
	OptionSnapshot uint32 = 1
)
