package box

import (
	"fmt"
	"sync"
)

// Locker grants exclusive write access to an account. TryLock never waits:
// ok is false when another holder has the lock.
type Locker interface {
	TryLock(accountID uint32) (unlock func() error, ok bool, err error)
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[uint32]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[uint32]bool)}
}

func (l *MemoryLocker) TryLock(accountID uint32) (func() error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[accountID] {
		return nil, false, nil
	}
	l.held[accountID] = true

	var once sync.Once
	return func() error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, accountID)
			l.mu.Unlock()
		})
		return nil
	}, true, nil
}

var _ Locker = (*MemoryLocker)(nil)

// AccountLockError reports that an account lock could not be taken.
type AccountLockError struct {
	AccountID uint32
}

func (e *AccountLockError) Error() string {
	return fmt.Sprintf("account %08x is locked by another process", e.AccountID)
}

func (e *AccountLockError) Is(target error) bool {
	return target == ErrCannotLockForWriting
}
