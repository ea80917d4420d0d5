package object

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/opencore-vcs/gitcore/errs"
)

// TreeEntry is one member of a tree: a name, its mode, and the identity
// of the blob/subtree/gitlink it points to.
type TreeEntry struct {
	Mode FileMode
	Name string
	ID   ID
}

// Tree is a canonically ordered set of entries. Entries are sorted by
// name on encode, as if a directory entry's name carried a trailing "/";
// on decode they are kept in the stored order (which is the canonical
// order, but decode never re-sorts, per spec — load must reflect exactly
// what is on disk).
type Tree struct {
	Entries []TreeEntry
}

// sortKey returns the name used for ordering: directory entries compare
// as if their name had a trailing slash, so "foo" sorts after "foo.txt"
// but before "foo/bar".
func (e TreeEntry) sortKey() string {
	if e.Mode.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

// Sorted returns a copy of t's entries in canonical order.
func (t *Tree) Sorted() []TreeEntry {
	out := make([]TreeEntry, len(t.Entries))
	copy(out, t.Entries)
	sort.Slice(out, func(i, j int) bool {
		return out[i].sortKey() < out[j].sortKey()
	})
	return out
}

// Entry returns the entry with the given name, or false if absent.
func (t *Tree) Entry(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// EncodeTree serializes t in canonical (sorted) order.
func EncodeTree(t *Tree) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range t.Sorted() {
		if e.Name == "" || strings.Contains(e.Name, "/") || e.Name == "." || e.Name == ".." {
			return nil, fmt.Errorf("%w: impossible tree entry name %q", errs.ErrInvalidInput, e.Name)
		}
		fmt.Fprintf(&buf, "%s %s\x00", e.Mode.String(), e.Name)
		buf.Write(e.ID[:])
	}
	return buf.Bytes(), nil
}

// DecodeTree parses tree content in the stored order, without re-sorting.
func DecodeTree(content []byte) (*Tree, error) {
	r := bufio.NewReader(bytes.NewReader(content))
	t := &Tree{}
	for {
		modeBytes, err := r.ReadBytes(' ')
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading tree entry mode: %v", errs.ErrCorruptObject, err)
		}
		mode, err := ParseFileMode(string(modeBytes[:len(modeBytes)-1]))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid tree entry mode: %v", errs.ErrCorruptObject, err)
		}

		nameBytes, err := r.ReadBytes(0)
		if err != nil {
			return nil, fmt.Errorf("%w: reading tree entry name: %v", errs.ErrCorruptObject, err)
		}
		name := string(nameBytes[:len(nameBytes)-1])

		var rawID [IDSize]byte
		if _, err := io.ReadFull(r, rawID[:]); err != nil {
			return nil, fmt.Errorf("%w: reading tree entry id: %v", errs.ErrCorruptObject, err)
		}

		t.Entries = append(t.Entries, TreeEntry{Mode: mode, Name: name, ID: ID(rawID)})
	}
	return t, nil
}
