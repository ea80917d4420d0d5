package object

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/pjbgf/sha1cd"

	"github.com/opencore-vcs/gitcore/errs"
)

// IDSize is the byte length of an object identity: a SHA-1 digest.
const IDSize = 20

// ID is the 20-byte SHA-1 identity of a framed object. The only hash
// algorithm this module supports is SHA-1, per spec; a second algorithm
// is deliberately not modeled here (see DESIGN.md).
type ID [IDSize]byte

// ZeroID is the all-zero identity, used as a sentinel for "no object"
// (e.g. the parent of the first commit, or an unset OFS_DELTA base).
var ZeroID ID

// EmptyTreeID is the well-known identity of the empty tree. It must be
// reported present by any ObjectStore without persisted bytes.
var EmptyTreeID = MustParseID("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

// String renders the identity as lowercase 40-hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero identity.
func (id ID) IsZero() bool { return id == ZeroID }

// Bytes returns the 20 raw identity bytes.
func (id ID) Bytes() []byte { return id[:] }

// Compare orders two identities byte-lexicographically, matching the
// ascending order pack indexes store identities in.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// ParseID parses a lowercase (or uppercase) 40-hex string into an ID.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) != IDSize*2 {
		return id, errs.ErrInvalidInput
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, errs.ErrInvalidInput
	}
	copy(id[:], b)
	return id, nil
}

// MustParseID is ParseID, panicking on error. Reserved for well-known
// constants (e.g. EmptyTreeID), never for untrusted input.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IDFromBytes copies 20 raw bytes into an ID.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDSize {
		return id, errs.ErrInvalidInput
	}
	copy(id[:], b)
	return id, nil
}

// IDSlice sorts a slice of IDs in strictly ascending order, the order
// pack indexes require.
type IDSlice []ID

func (s IDSlice) Len() int           { return len(s) }
func (s IDSlice) Less(i, j int) bool { return s[i].Compare(s[j]) < 0 }
func (s IDSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// SortIDs sorts ids ascending in place.
func SortIDs(ids []ID) { sort.Sort(IDSlice(ids)) }

// NewHash returns a fresh collision-detecting SHA-1 state, the same
// algorithm the on-disk identity is computed with.
func NewHash() *sha1cdHash {
	return &sha1cdHash{h: sha1cd.New()}
}

type sha1cdHash struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
		Reset()
	}
}

func (s *sha1cdHash) Write(p []byte) (int, error) { return s.h.Write(p) }
func (s *sha1cdHash) Reset()                      { s.h.Reset() }

// Sum returns the 20-byte identity accumulated so far.
func (s *sha1cdHash) Sum() ID {
	var id ID
	copy(id[:], s.h.Sum(nil))
	return id
}
