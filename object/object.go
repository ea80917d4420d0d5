// Package object implements the Git object model: the four object types
// (blob, tree, commit, tag), their canonical on-disk framing, and the
// SHA-1 identity computed over that framing.
package object

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/opencore-vcs/gitcore/errs"
)

// Type identifies one of the four Git object kinds.
type Type uint8

const (
	InvalidType Type = iota
	BlobType
	TreeType
	CommitType
	TagType
)

// String renders the type the way it appears in the object header and in
// pack entries.
func (t Type) String() string {
	switch t {
	case BlobType:
		return "blob"
	case TreeType:
		return "tree"
	case CommitType:
		return "commit"
	case TagType:
		return "tag"
	default:
		return "invalid"
	}
}

// ParseType parses the textual type found in an object header.
func ParseType(s string) (Type, error) {
	switch s {
	case "blob":
		return BlobType, nil
	case "tree":
		return TreeType, nil
	case "commit":
		return CommitType, nil
	case "tag":
		return TagType, nil
	default:
		return InvalidType, fmt.Errorf("%w: unknown object type %q", errs.ErrInvalidInput, s)
	}
}

// Header is the parsed "<type> <size>\0" prefix of a framed object.
type Header struct {
	Type Type
	Size int64
}

// WriteHeader writes the canonical ASCII header "<type> <size>\0" to w.
func WriteHeader(w io.Writer, t Type, size int64) error {
	_, err := fmt.Fprintf(w, "%s %d\x00", t, size)
	return err
}

// ParseHeader reads and parses a framed object's header from r, stopping
// immediately after the terminating NUL. It does not buffer more than the
// header itself.
func ParseHeader(r *bufio.Reader) (Header, error) {
	typeBytes, err := r.ReadBytes(' ')
	if err != nil {
		return Header{}, fmt.Errorf("%w: reading object type: %v", errs.ErrCorruptObject, err)
	}
	typ, err := ParseType(string(typeBytes[:len(typeBytes)-1]))
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", errs.ErrCorruptObject, err)
	}

	sizeBytes, err := r.ReadBytes(0)
	if err != nil {
		return Header{}, fmt.Errorf("%w: reading object size: %v", errs.ErrCorruptObject, err)
	}
	size, err := strconv.ParseInt(string(sizeBytes[:len(sizeBytes)-1]), 10, 64)
	if err != nil || size < 0 {
		return Header{}, fmt.Errorf("%w: invalid object size", errs.ErrCorruptObject)
	}

	return Header{Type: typ, Size: size}, nil
}

// Frame encodes the full "<type> <size>\0<content>" byte sequence for an
// in-memory content blob. Callers streaming large content should instead
// call WriteHeader followed by their own copy, and compute the identity
// with Identity/IdentityFromReader.
func Frame(t Type, content []byte) []byte {
	var buf bytes.Buffer
	_ = WriteHeader(&buf, t, int64(len(content)))
	buf.Write(content)
	return buf.Bytes()
}

// Identity computes the SHA-1 identity of an in-memory object: the hash
// of its header followed by its content, per spec.
func Identity(t Type, content []byte) ID {
	h := NewHash()
	_ = WriteHeader(h, t, int64(len(content)))
	h.Write(content)
	return h.Sum()
}

// IdentityFromReader computes the identity of an object whose content is
// streamed from r, given its declared size. It returns ErrCorruptObject
// if the stream yields a different number of bytes than declared.
func IdentityFromReader(t Type, size int64, r io.Reader) (ID, error) {
	h := NewHash()
	_ = WriteHeader(h, t, size)

	n, err := io.Copy(h, r)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if n != size {
		return ID{}, fmt.Errorf("%w: declared size %d, observed %d", errs.ErrCorruptObject, size, n)
	}
	return h.Sum(), nil
}
