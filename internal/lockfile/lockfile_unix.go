//go:build darwin || linux

package lockfile

import (
	billy "github.com/go-git/go-billy/v5"
	"golang.org/x/sys/unix"
)

type fdFile interface {
	Fd() uintptr
}

// tryFlock attempts an advisory exclusive flock on f's descriptor, when
// the billy.File exposes one (real filesystems do; in-memory ones
// don't). Failure is silent: O_EXCL at file creation is what actually
// prevents two holders, this is only a second line of defense against a
// lock file left behind by a crashed process on the same host.
func tryFlock(f billy.File) {
	fd, ok := f.(fdFile)
	if !ok {
		return
	}
	_ = unix.Flock(int(fd.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}
