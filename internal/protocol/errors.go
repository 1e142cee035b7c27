package protocol

import (
	"errors"
	"fmt"

	"boxstore/internal/box"
)

// ErrorCode is the error sent to a client in place of a reply.
type ErrorCode int

// Error codes. Zero is never sent; metrics use it for success.
const (
	ErrNone                      ErrorCode = 0
	ErrWrongVersion              ErrorCode = 1
	ErrNotInRightProtocolPhase   ErrorCode = 2
	ErrBadLogin                  ErrorCode = 3
	ErrCannotLockStoreForWriting ErrorCode = 4
	ErrSessionReadOnly           ErrorCode = 5
	ErrFileDoesNotVerify         ErrorCode = 6
	ErrDoesNotExist              ErrorCode = 7
	ErrDirectoryAlreadyExists    ErrorCode = 8
	ErrCannotDeleteRoot          ErrorCode = 9
	ErrTargetNameExists          ErrorCode = 10
	ErrStorageLimitExceeded      ErrorCode = 11
	ErrDiffFromFileDoesNotExist  ErrorCode = 12
	ErrDoesNotExistInDirectory   ErrorCode = 13
	ErrPatchConsistencyError     ErrorCode = 14
	ErrMultiplyReferencedObject  ErrorCode = 15
	ErrDisabledAccount           ErrorCode = 16
	ErrCannotResumeUpload        ErrorCode = 17
	ErrMoveIntoItself            ErrorCode = 18
)

var codeNames = map[ErrorCode]string{
	ErrNone:                      "None",
	ErrWrongVersion:              "WrongVersion",
	ErrNotInRightProtocolPhase:   "NotInRightProtocolPhase",
	ErrBadLogin:                  "BadLogin",
	ErrCannotLockStoreForWriting: "CannotLockStoreForWriting",
	ErrSessionReadOnly:           "SessionReadOnly",
	ErrFileDoesNotVerify:         "FileDoesNotVerify",
	ErrDoesNotExist:              "DoesNotExist",
	ErrDirectoryAlreadyExists:    "DirectoryAlreadyExists",
	ErrCannotDeleteRoot:          "CannotDeleteRoot",
	ErrTargetNameExists:          "TargetNameExists",
	ErrStorageLimitExceeded:      "StorageLimitExceeded",
	ErrDiffFromFileDoesNotExist:  "DiffFromFileDoesNotExist",
	ErrDoesNotExistInDirectory:   "DoesNotExistInDirectory",
	ErrPatchConsistencyError:     "PatchConsistencyError",
	ErrMultiplyReferencedObject:  "MultiplyReferencedObject",
	ErrDisabledAccount:           "DisabledAccount",
	ErrCannotResumeUpload:        "CannotResumeUpload",
	ErrMoveIntoItself:            "MoveIntoItself",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// errorTable maps store errors to codes. Order matters: the first entry
// that matches with errors.Is wins, so more specific errors come first.
var errorTable = []struct {
	err  error
	code ErrorCode
}{
	{box.ErrWrongVersion, ErrWrongVersion},
	{box.ErrNotInRightProtocolPhase, ErrNotInRightProtocolPhase},
	{box.ErrBadLogin, ErrBadLogin},
	{box.ErrCannotLockForWriting, ErrCannotLockStoreForWriting},
	{box.ErrSessionReadOnly, ErrSessionReadOnly},
	{box.ErrAccountDisabled, ErrDisabledAccount},
	{box.ErrDiffFromFileDoesNotExist, ErrDiffFromFileDoesNotExist},
	{box.ErrDoesNotExistInDirectory, ErrDoesNotExistInDirectory},
	{box.ErrDoesNotExist, ErrDoesNotExist},
	{box.ErrFileDoesNotVerify, ErrFileDoesNotVerify},
	{box.ErrStorageLimitExceeded, ErrStorageLimitExceeded},
	{box.ErrMultiplyReferencedObject, ErrMultiplyReferencedObject},
	{box.ErrNameAlreadyExists, ErrTargetNameExists},
	{box.ErrPatchChainBroken, ErrPatchConsistencyError},
	{box.ErrCannotResumeUpload, ErrCannotResumeUpload},
	{box.ErrDirectoryAlreadyExists, ErrDirectoryAlreadyExists},
	{box.ErrCannotDeleteRoot, ErrCannotDeleteRoot},
	{box.ErrMoveIntoItself, ErrMoveIntoItself},
}

// CodeFor returns the error code for err, or false if err has no code and
// must end the session.
func CodeFor(err error) (ErrorCode, bool) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.code, true
		}
	}
	return ErrNone, false
}
