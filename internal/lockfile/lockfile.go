// Package lockfile implements the write-to-temp-then-rename locking
// pattern used for per-ref updates: a sibling
// "<path>.lock" file is created with O_EXCL so at most one writer can
// hold it at a time, written to, then renamed over the real path to
// publish atomically. On platforms where the underlying file exposes a
// descriptor, an advisory flock is additionally attempted as defense in
// depth against a stale lock file left by a crashed process on the same
// machine; O_EXCL alone is what makes this portable across every
// billy.Filesystem, including in-memory ones used in tests.
package lockfile

import (
	"fmt"
	"os"
	"path"
	"time"

	billy "github.com/go-git/go-billy/v5"

	"github.com/opencore-vcs/gitcore/errs"
)

// Lock is a held lock file, created but not yet committed or rolled back.
type Lock struct {
	fs       billy.Filesystem
	path     string
	lockPath string
	file     billy.File
	done     bool
}

// Acquire creates path+".lock" exclusively. If a lock is already held (by
// this process or another), it retries a few times with doubling backoff
// and then fails with errs.ErrConflict.
func Acquire(fs billy.Filesystem, refPath string) (*Lock, error) {
	const attempts = 5
	const backoff = 10 * time.Millisecond
	if dir := path.Dir(refPath); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
	}
	lockPath := refPath + ".lock"
	var f billy.File
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(backoff << (i - 1))
		}
		if f, err = fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s already held: %v", errs.ErrConflict, refPath, err)
	}
	tryFlock(f) // best-effort; O_EXCL above is the actual guarantee
	return &Lock{fs: fs, path: refPath, lockPath: lockPath, file: f}, nil
}

// Write writes b to the lock file.
func (l *Lock) Write(b []byte) error {
	if _, err := l.file.Write(b); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

// File exposes the underlying billy.File for callers that need to
// stream large writes rather than buffering into Write.
func (l *Lock) File() billy.File { return l.file }

// Commit closes the lock file and renames it over path, publishing the
// write atomically. The Lock must not be reused afterward.
func (l *Lock) Commit() error {
	if l.done {
		return nil
	}
	l.done = true
	if err := l.file.Close(); err != nil {
		l.fs.Remove(l.lockPath)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := l.fs.Rename(l.lockPath, l.path); err != nil {
		l.fs.Remove(l.lockPath)
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

// Rollback closes and removes the lock file without publishing it.
func (l *Lock) Rollback() error {
	if l.done {
		return nil
	}
	l.done = true
	l.file.Close()
	if err := l.fs.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}
