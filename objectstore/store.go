// Package objectstore provides a typed facade over storage.RawStorage for
// git's four object kinds (blob, tree, commit, tag), handling identity
// computation, header framing, and streaming so callers never touch the
// "<type> <size>\0" envelope directly.
package objectstore

import (
	"fmt"
	"io"

	billy "github.com/go-git/go-billy/v5"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
	"github.com/opencore-vcs/gitcore/storage"
)

// DefaultSpillThreshold is the amount of content Store buffers in memory
// before spilling the remainder to a temp file, mirroring the loose
// object writer's temp-file discipline for large blobs.
const DefaultSpillThreshold = 1 << 20 // 1 MiB

// Store is the raw, untyped layer: it frames content under git's object
// header, computes its identity, and persists it keyed by that identity.
// The typed views (Blobs, Trees, Commits, Tags) build on top of it.
type Store struct {
	raw            storage.RawStorage
	tmp            billy.Filesystem
	spillThreshold int64
}

// New builds a Store over raw. tmp supplies temp files for spilling
// content of unknown size above spillThreshold (DefaultSpillThreshold if
// 0); tmp may be nil if callers only ever use StoreWithSize.
func New(raw storage.RawStorage, tmp billy.Filesystem, spillThreshold int64) *Store {
	if spillThreshold <= 0 {
		spillThreshold = DefaultSpillThreshold
	}
	return &Store{raw: raw, tmp: tmp, spillThreshold: spillThreshold}
}

// StoreWithSize frames and persists content of known size in a single
// pass: the header can be hashed up front, so content is hashed while it
// is spilled, and the spilled copy is read once more only to store it.
func (s *Store) StoreWithSize(t object.Type, size int64, r io.Reader) (object.ID, error) {
	h := object.NewHash()
	_ = object.WriteHeader(h, t, size)
	sp, n, err := spill(io.TeeReader(io.LimitReader(r, size+1), h), s.spillThreshold, s.tmp)
	if err != nil {
		return object.ID{}, err
	}
	defer sp.Close()
	if n != size {
		return object.ID{}, fmt.Errorf("%w: declared size %d does not match %d bytes read", errs.ErrInvalidInput, size, n)
	}

	id := h.Sum()

	key := id.String()
	if ok, err := s.raw.Has(key); err != nil {
		return object.ID{}, err
	} else if ok {
		// Content-addressed: an existing object with this id is already
		// identical content, so the write can be skipped.
		return id, nil
	}

	framed := io.MultiReader(headerReader(t, size), sp)
	if err := s.raw.Store(key, framed); err != nil {
		return object.ID{}, err
	}
	return id, nil
}

// Store frames and persists content of unknown size, buffering it first
// (in memory up to the spill threshold, then to a temp file) to learn
// its length before the header can be written.
func (s *Store) Store(t object.Type, r io.Reader) (object.ID, error) {
	sp, n, err := spill(r, s.spillThreshold, s.tmp)
	if err != nil {
		return object.ID{}, err
	}
	defer sp.Close()
	return s.StoreWithSize(t, n, sp)
}

// Has reports whether id is present, regardless of object type.
func (s *Store) Has(id object.ID) (bool, error) {
	if id == object.EmptyTreeID {
		return true, nil
	}
	return s.raw.Has(id.String())
}

// Remove deletes id, reporting whether it was present.
func (s *Store) Remove(id object.ID) (bool, error) {
	return s.raw.Remove(id.String())
}

// GetHeader returns id's type and content size without reading the body.
func (s *Store) GetHeader(id object.ID) (object.Header, error) {
	if id == object.EmptyTreeID {
		return object.Header{Type: object.TreeType, Size: 0}, nil
	}

	r, err := s.raw.Load(id.String(), storage.FullRange)
	if err != nil {
		return object.Header{}, err
	}
	defer r.Close()

	br := newBufReader(r)
	return object.ParseHeader(br)
}

// LoadRaw returns the object's header and a stream of its content (with
// the header already consumed).
func (s *Store) LoadRaw(id object.ID) (object.Header, io.ReadCloser, error) {
	if id == object.EmptyTreeID {
		return object.Header{Type: object.TreeType, Size: 0}, io.NopCloser(emptyReader{}), nil
	}

	r, err := s.raw.Load(id.String(), storage.FullRange)
	if err != nil {
		return object.Header{}, nil, err
	}

	br := newBufReader(r)
	hdr, err := object.ParseHeader(br)
	if err != nil {
		r.Close()
		return object.Header{}, nil, err
	}
	return hdr, &bufThenClose{br: br, c: r}, nil
}

// List enumerates every object id present, in no particular order.
func (s *Store) List() ([]object.ID, error) {
	it, err := s.raw.Keys()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var ids []object.ID
	for {
		k, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		id, err := object.ParseID(k)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
