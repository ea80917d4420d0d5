//go:build !darwin && !linux

package lockfile

import billy "github.com/go-git/go-billy/v5"

// tryFlock is a no-op on platforms without unix.Flock; O_EXCL at lock
// file creation remains the actual locking guarantee everywhere.
func tryFlock(f billy.File) {}
