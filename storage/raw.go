// Package storage implements the RawStorage and CompressedStorage layers:
// a byte-addressed key/value map with range reads, either sharded across
// files on a billy.Filesystem or chunked into a SQL table for backends
// with a per-value size limit, optionally wrapped with zlib compression.
package storage

import (
	"fmt"
	"io"

	"github.com/opencore-vcs/gitcore/errs"
)

// Range bounds a partial read in uncompressed byte space. An End of -1
// means "through end of stream".
type Range struct {
	Start int64
	End   int64 // exclusive; -1 means unbounded
}

// FullRange reads the entire value.
var FullRange = Range{Start: 0, End: -1}

// RawStorage is a key/value map over opaque byte streams, keyed by
// 40-hex object identity (sharded storage) or an arbitrary string
// (chunked storage). Implementations must make a successful Store
// visible to any subsequent Load of the same key on the same instance.
type RawStorage interface {
	// Store writes the full value for key, replacing any prior value.
	Store(key string, r io.Reader) error

	// Load returns a reader over rng of the value for key. Returns
	// errs.ErrNotFound if key is absent, or errs.ErrInvalidInput if rng
	// falls outside [0, Size(key)].
	Load(key string, rng Range) (io.ReadCloser, error)

	// Has reports whether key is present.
	Has(key string) (bool, error)

	// Remove deletes key, reporting whether it was present.
	Remove(key string) (bool, error)

	// Keys streams every key present, in unspecified order.
	Keys() (KeyIterator, error)

	// Size returns the uncompressed byte length of the value for key.
	Size(key string) (int64, error)
}

// KeyIterator yields keys one at a time.
type KeyIterator interface {
	Next() (string, error) // io.EOF when exhausted
	Close() error
}

func validateRange(rng Range, total int64) error {
	if rng.Start < 0 || rng.Start > total {
		return fmt.Errorf("%w: range start %d out of [0,%d]", errs.ErrInvalidInput, rng.Start, total)
	}
	end := rng.End
	if end == -1 {
		end = total
	}
	if end < rng.Start || end > total {
		return fmt.Errorf("%w: range end %d out of [0,%d]", errs.ErrInvalidInput, rng.End, total)
	}
	return nil
}
