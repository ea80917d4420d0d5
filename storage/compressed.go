package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/opencore-vcs/gitcore/errs"
)

// CompressedStorage wraps a RawStorage, deflating on Store and inflating
// on Load. Range bounds are in uncompressed space: a range read inflates
// from the start and slices the requested window, since zlib streams
// aren't seekable.
//
// Compression uses github.com/klauspost/compress/zlib, a drop-in
// accelerated replacement for the standard library's zlib package; the
// on-disk bytes are standard zlib-framed DEFLATE, so they remain
// readable by stock git and by compress/zlib.
type CompressedStorage struct {
	inner RawStorage
	level int
}

// NewCompressedStorage wraps inner with zlib compression at level
// (zlib.DefaultCompression if 0).
func NewCompressedStorage(inner RawStorage, level int) *CompressedStorage {
	if level == 0 {
		level = zlib.DefaultCompression
	}
	return &CompressedStorage{inner: inner, level: level}
}

func (c *CompressedStorage) Store(key string, r io.Reader) error {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return c.inner.Store(key, &buf)
}

// Load inflates the full value and slices rng out of it. rng is checked
// against the inflated length rather than c.inner.Size, since the inner
// store only knows the compressed length.
func (c *CompressedStorage) Load(key string, rng Range) (io.ReadCloser, error) {
	plain, err := c.inflateAll(key)
	if err != nil {
		return nil, err
	}

	if err := validateRange(rng, int64(len(plain))); err != nil {
		return nil, err
	}
	end := rng.End
	if end == -1 {
		end = int64(len(plain))
	}

	return io.NopCloser(bytes.NewReader(plain[rng.Start:end])), nil
}

func (c *CompressedStorage) inflateAll(key string) ([]byte, error) {
	raw, err := c.inner.Load(key, FullRange)
	if err != nil {
		return nil, err
	}
	defer raw.Close()

	zr, err := zlib.NewReader(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCorruptObject, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCorruptObject, err)
	}
	return out, nil
}

func (c *CompressedStorage) Has(key string) (bool, error) { return c.inner.Has(key) }

func (c *CompressedStorage) Remove(key string) (bool, error) { return c.inner.Remove(key) }

func (c *CompressedStorage) Keys() (KeyIterator, error) { return c.inner.Keys() }

// Size returns the uncompressed length, which requires a full inflate
// since zlib doesn't expose the decompressed size up front.
func (c *CompressedStorage) Size(key string) (int64, error) {
	plain, err := c.inflateAll(key)
	if err != nil {
		return 0, err
	}
	return int64(len(plain)), nil
}
