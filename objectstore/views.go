package objectstore

import (
	"fmt"
	"io"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
)

// ObjectStore composes the four typed views over a single underlying
// Store, so callers work in terms of trees/commits/tags/blobs rather
// than raw framed bytes.
type ObjectStore struct {
	store *Store

	Blobs   *BlobView
	Trees   *TreeView
	Commits *CommitView
	Tags    *TagView
}

// NewObjectStore builds the typed views over s.
func NewObjectStore(s *Store) *ObjectStore {
	os := &ObjectStore{store: s}
	os.Blobs = &BlobView{store: s}
	os.Trees = &TreeView{store: s}
	os.Commits = &CommitView{store: s}
	os.Tags = &TagView{store: s}
	return os
}

// Header returns id's type/size without reading its body, for callers
// (e.g. GC's reachability walk) that discover ids of unknown type.
func (os *ObjectStore) Header(id object.ID) (object.Header, error) {
	return os.store.GetHeader(id)
}

// Has reports whether id is present, regardless of type.
func (os *ObjectStore) Has(id object.ID) (bool, error) {
	return os.store.Has(id)
}

// Remove deletes id's loose object, reporting whether it was present.
func (os *ObjectStore) Remove(id object.ID) (bool, error) {
	return os.store.Remove(id)
}

// LoadRaw returns id's header and a stream of its content, regardless
// of type, for callers (e.g. a delta base resolver) that work in terms
// of raw bytes rather than a typed view.
func (os *ObjectStore) LoadRaw(id object.ID) (object.Header, io.ReadCloser, error) {
	return os.store.LoadRaw(id)
}

// List enumerates every loose object's identity.
func (os *ObjectStore) List() ([]object.ID, error) {
	return os.store.List()
}

// checkType verifies a loaded header matches the expected type, since
// the raw store is untyped by key alone.
func checkType(hdr object.Header, want object.Type) error {
	if hdr.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", errs.ErrInvalidInput, want, hdr.Type)
	}
	return nil
}

// BlobView stores and loads blob content verbatim; git blobs carry no
// structure of their own.
type BlobView struct{ store *Store }

func (v *BlobView) Store(r io.Reader) (object.ID, error) {
	return v.store.Store(object.BlobType, r)
}

func (v *BlobView) StoreWithSize(size int64, r io.Reader) (object.ID, error) {
	return v.store.StoreWithSize(object.BlobType, size, r)
}

// Load returns a stream of the blob's content; the caller must Close it.
func (v *BlobView) Load(id object.ID) (io.ReadCloser, error) {
	hdr, r, err := v.store.LoadRaw(id)
	if err != nil {
		return nil, err
	}
	if err := checkType(hdr, object.BlobType); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (v *BlobView) Has(id object.ID) (bool, error) { return v.store.Has(id) }

func (v *BlobView) Remove(id object.ID) (bool, error) { return v.store.Remove(id) }

// TreeView encodes/decodes git's tree format over the raw store.
type TreeView struct{ store *Store }

func (v *TreeView) Store(t *object.Tree) (object.ID, error) {
	content, err := object.EncodeTree(t)
	if err != nil {
		return object.ID{}, err
	}
	return v.store.StoreWithSize(object.TreeType, int64(len(content)), bytesReader(content))
}

func (v *TreeView) Load(id object.ID) (*object.Tree, error) {
	if id == object.EmptyTreeID {
		return &object.Tree{}, nil
	}
	hdr, r, err := v.store.LoadRaw(id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if err := checkType(hdr, object.TreeType); err != nil {
		return nil, err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return object.DecodeTree(content)
}

func (v *TreeView) Has(id object.ID) (bool, error) { return v.store.Has(id) }

func (v *TreeView) Remove(id object.ID) (bool, error) { return v.store.Remove(id) }

// CommitView encodes/decodes git's commit format over the raw store.
type CommitView struct{ store *Store }

func (v *CommitView) Store(c *object.Commit) (object.ID, error) {
	content := object.EncodeCommit(c)
	return v.store.StoreWithSize(object.CommitType, int64(len(content)), bytesReader(content))
}

func (v *CommitView) Load(id object.ID) (*object.Commit, error) {
	hdr, r, err := v.store.LoadRaw(id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if err := checkType(hdr, object.CommitType); err != nil {
		return nil, err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return object.DecodeCommit(content)
}

func (v *CommitView) Has(id object.ID) (bool, error) { return v.store.Has(id) }

func (v *CommitView) Remove(id object.ID) (bool, error) { return v.store.Remove(id) }

// TagView encodes/decodes git's annotated tag format over the raw store.
type TagView struct{ store *Store }

func (v *TagView) Store(t *object.Tag) (object.ID, error) {
	content := object.EncodeTag(t)
	return v.store.StoreWithSize(object.TagType, int64(len(content)), bytesReader(content))
}

func (v *TagView) Load(id object.ID) (*object.Tag, error) {
	hdr, r, err := v.store.LoadRaw(id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if err := checkType(hdr, object.TagType); err != nil {
		return nil, err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return object.DecodeTag(content)
}

func (v *TagView) Has(id object.ID) (bool, error) { return v.store.Has(id) }

func (v *TagView) Remove(id object.ID) (bool, error) { return v.store.Remove(id) }
