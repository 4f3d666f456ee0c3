package indexer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
)

// ErrWriteLocked is returned when another writer holds the directory lock.
var ErrWriteLocked = fmt.Errorf("%w: %s is held", apperrors.ErrIndexLocked, segment.LockFileName)

// writeLock is an advisory exclusive flock on <dir>/write.lock. The lock is
// tied to the open file, so it is released if the process dies.
type writeLock struct {
	f *os.File
}

func acquireWriteLock(dir string) (*writeLock, error) {
	path := filepath.Join(dir, segment.LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWriteLocked
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &writeLock{f: f}, nil
}

func (l *writeLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	if err != nil {
		return fmt.Errorf("releasing write lock: %w", err)
	}
	return nil
}
