// Package lock provides the cross-process account lock used by write
// sessions, the checker and housekeeping.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"boxstore/internal/box"
)

// FileLocker takes an exclusive flock on <dir>/<account id>.lock. The
// kernel drops the lock when the holding process exits, so stale lock
// files never block an account.
type FileLocker struct {
	dir string
}

// NewFileLocker creates dir if needed.
func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileLocker{dir: dir}, nil
}

// Path returns the lock file used for an account.
func (l *FileLocker) Path(accountID uint32) string {
	return filepath.Join(l.dir, fmt.Sprintf("%08x.lock", accountID))
}

func (l *FileLocker) TryLock(accountID uint32) (func() error, bool, error) {
	f, err := os.OpenFile(l.Path(accountID), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, false, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("locking %s: %w", f.Name(), err)
	}

	var once sync.Once
	var unlockErr error
	unlock := func() error {
		once.Do(func() {
			if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
				unlockErr = fmt.Errorf("unlocking %s: %w", f.Name(), err)
			}
			if err := f.Close(); err != nil && unlockErr == nil {
				unlockErr = err
			}
		})
		return unlockErr
	}
	return unlock, true, nil
}

var _ box.Locker = (*FileLocker)(nil)
