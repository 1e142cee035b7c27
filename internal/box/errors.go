package box

import "errors"

// Store errors. Callers translate these to protocol error codes with errors.Is.
var (
	ErrWrongVersion             = errors.New("unsupported protocol version")
	ErrNotInRightProtocolPhase  = errors.New("command not allowed in current protocol phase")
	ErrBadLogin                 = errors.New("bad login")
	ErrCannotLockForWriting     = errors.New("account is locked by another session")
	ErrSessionReadOnly          = errors.New("session is read only")
	ErrAccountDisabled          = errors.New("account is disabled")
	ErrDoesNotExist             = errors.New("object does not exist")
	ErrDoesNotExistInDirectory  = errors.New("entry does not exist in directory")
	ErrFileDoesNotVerify        = errors.New("encoded file does not verify")
	ErrStorageLimitExceeded     = errors.New("storage limit exceeded")
	ErrMultiplyReferencedObject = errors.New("object is referenced more than once")
	ErrNameAlreadyExists        = errors.New("name already exists in directory")
	ErrPatchChainBroken         = errors.New("patch chain is inconsistent")
	ErrCannotResumeUpload       = errors.New("cannot resume upload")
	ErrDiffFromFileDoesNotExist = errors.New("diff-from file does not exist")
	ErrDirectoryAlreadyExists   = errors.New("directory already exists")
	ErrCannotDeleteRoot         = errors.New("cannot delete root directory")
	ErrMoveIntoItself           = errors.New("cannot move a directory into itself")

	ErrBadDirectoryFormat = errors.New("bad directory format")
	ErrBadStoreInfo       = errors.New("bad store info")
	ErrBadBackupsList     = errors.New("bad backups list")
	ErrBadResumeInfo      = errors.New("bad resume info")

	ErrBlobNotFound = errors.New("blob not found")
)

func isDoesNotExist(err error) bool {
	return errors.Is(err, ErrDoesNotExist)
}
