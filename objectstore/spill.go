package objectstore

import (
	"bytes"
	"fmt"
	"io"

	billy "github.com/go-git/go-billy/v5"

	"github.com/opencore-vcs/gitcore/errs"
)

// spillReader is a fully-buffered, seekable view of content whose length
// is now known, backed either by memory or by a temp file on disk.
type spillReader interface {
	io.ReadSeeker
	io.Closer
	Size() int64
}

type memSpill struct {
	*bytes.Reader
}

func (m memSpill) Close() error  { return nil }
func (m memSpill) Size() int64   { return int64(m.Reader.Len()) + readPos(m.Reader) }

// readPos compensates for Len() reporting remaining bytes, not total.
func readPos(r *bytes.Reader) int64 {
	pos, _ := r.Seek(0, io.SeekCurrent)
	return pos
}

type fileSpill struct {
	billy.File
	size int64
}

func (f *fileSpill) Size() int64 { return f.size }

// spill buffers r fully, keeping it in memory up to threshold bytes and
// spilling the remainder to a temp file on tmpFS beyond that, so storing
// an object of unknown size never requires holding an unbounded amount
// of it in memory.
func spill(r io.Reader, threshold int64, tmpFS billy.Filesystem) (spillReader, int64, error) {
	var buf bytes.Buffer
	limited := io.LimitReader(r, threshold)
	n, err := io.Copy(&buf, limited)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	if n < threshold {
		// Everything fit in memory.
		return memSpill{bytes.NewReader(buf.Bytes())}, n, nil
	}

	// There may be more; spill the rest (and what we already buffered)
	// to a temp file.
	if tmpFS == nil {
		return nil, 0, fmt.Errorf("%w: object exceeds in-memory spill threshold and no temp filesystem was configured", errs.ErrIO)
	}

	tmp, err := tmpFS.TempFile("", "spill_")
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	total, err := io.Copy(tmp, io.MultiReader(bytes.NewReader(buf.Bytes()), r))
	if err != nil {
		tmp.Close()
		tmpFS.Remove(tmp.Name())
		return nil, 0, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		tmpFS.Remove(tmp.Name())
		return nil, 0, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	return &namedFileSpill{fileSpill: fileSpill{File: tmp, size: total}, fs: tmpFS, name: tmp.Name()}, total, nil
}

// namedFileSpill removes its backing temp file on Close.
type namedFileSpill struct {
	fileSpill
	fs   billy.Filesystem
	name string
}

func (f *namedFileSpill) Close() error {
	err := f.File.Close()
	f.fs.Remove(f.name)
	return err
}
