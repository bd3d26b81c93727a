package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

// LockFileName is created inside the index directory while it is written.
const LockFileName = ".index.lock"

// DirLock is a cross-process lock on an index directory. Two index builds
// writing the same directory would interleave BM25 and vector state.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock prepares a lock for dir. Nothing is created until Lock.
func NewDirLock(dir string) *DirLock {
	lockPath := filepath.Join(dir, LockFileName)
	return &DirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock acquires the lock without blocking. It fails with
// ErrCodeIndexLocked when another process holds it.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return rferrors.New(rferrors.ErrCodeWriteFailed,
			fmt.Sprintf("failed to create index directory %s", filepath.Dir(l.path)), err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return rferrors.New(rferrors.ErrCodeIndexLocked, "failed to acquire index lock", err).
			WithDetail("path", l.path)
	}
	if !acquired {
		return rferrors.New(rferrors.ErrCodeIndexLocked,
			fmt.Sprintf("index directory %s is being written by another process", filepath.Dir(l.path)), nil).
			WithDetail("path", l.path).
			WithSuggestion("wait for the other 'rankfuse index' to finish")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call on an unlocked DirLock.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release index lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}

// IsLocked reports whether this DirLock holds the lock.
func (l *DirLock) IsLocked() bool {
	return l.locked
}
