// Package pack implements Git's pack file format: the .pack entry
// stream, the .idx index (V1 and V2), the format-agnostic delta codec
// and its Git binary serialization, a PendingPack writer, and a
// PackDeltaStore layering delta storage over it.
package pack

import (
	"fmt"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
)

// entryType is the 3-bit type tag carried in a pack entry header.
type entryType uint8

const (
	entryCommit   entryType = 1
	entryTree     entryType = 2
	entryBlob     entryType = 3
	entryTag      entryType = 4
	entryOfsDelta entryType = 6
	entryRefDelta entryType = 7
)

func entryTypeForObject(t object.Type) (entryType, error) {
	switch t {
	case object.CommitType:
		return entryCommit, nil
	case object.TreeType:
		return entryTree, nil
	case object.BlobType:
		return entryBlob, nil
	case object.TagType:
		return entryTag, nil
	default:
		return 0, fmt.Errorf("%w: no pack entry type for object type %s", errs.ErrInvalidInput, t)
	}
}

func (t entryType) objectType() (object.Type, bool) {
	switch t {
	case entryCommit:
		return object.CommitType, true
	case entryTree:
		return object.TreeType, true
	case entryBlob:
		return object.BlobType, true
	case entryTag:
		return object.TagType, true
	default:
		return object.InvalidType, false
	}
}

func (t entryType) isDelta() bool {
	return t == entryOfsDelta || t == entryRefDelta
}

// PackHeaderMagic is the 4-byte ASCII signature at the start of every
// pack file.
const PackHeaderMagic = "PACK"

// SupportedVersions are the pack format versions this package reads.
var SupportedVersions = [2]uint32{2, 3}
