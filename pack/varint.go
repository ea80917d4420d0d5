package pack

import (
	"fmt"

	"github.com/opencore-vcs/gitcore/errs"
)

// writeEntryHeader encodes a pack entry header: the first byte carries a
// 3-bit type in bits 6-4 and the low 4 size bits in bits 3-0; each
// continuation byte (MSB set) contributes 7 more size bits, little-endian.
func writeEntryHeader(t entryType, size uint64) []byte {
	first := byte(t) << 4
	first |= byte(size & 0x0f)
	size >>= 4

	var out []byte
	if size > 0 {
		first |= 0x80
	}
	out = append(out, first)
	for size > 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

// readEntryHeader decodes the header written by writeEntryHeader from the
// given byte source, returning the type, declared size and byte count
// consumed.
func readEntryHeader(next func() (byte, error)) (entryType, uint64, int, error) {
	b, err := next()
	if err != nil {
		return 0, 0, 0, err
	}
	n := 1
	t := entryType((b >> 4) & 0x07)
	size := uint64(b & 0x0f)
	shift := uint(4)
	for b&0x80 != 0 {
		b, err = next()
		if err != nil {
			return 0, 0, 0, err
		}
		n++
		size |= uint64(b&0x7f) << shift
		shift += 7
		if shift > 70 {
			return 0, 0, 0, fmt.Errorf("%w: entry header size varint too long", errs.ErrCorruptPack)
		}
	}
	return t, size, n, nil
}

// writeOffsetDelta encodes the OFS_DELTA negative backward-offset varint:
// big-endian 7-bit groups where every continuation byte implicitly adds 1
// to account for the fact that a raw concatenation of base-128 digits
// cannot represent the value 0 in a non-terminal group without ambiguity.
func writeOffsetDelta(offset uint64) []byte {
	// Collect base-128 digits, most significant group last is emitted
	// first (big-endian), continuation adjustment per git's varint.
	var digits []byte
	digits = append(digits, byte(offset&0x7f))
	offset >>= 7
	for offset > 0 {
		offset--
		digits = append(digits, byte(offset&0x7f)|0x80)
		offset >>= 7
	}
	// digits were appended least-significant-first; emit reversed with
	// continuation bits set on all but the last (original first) byte.
	out := make([]byte, len(digits))
	for i, d := range digits {
		b := d &^ 0x80
		if i != 0 {
			b |= 0x80
		}
		out[len(digits)-1-i] = b
	}
	return out
}

// readOffsetDelta decodes the varint written by writeOffsetDelta.
func readOffsetDelta(next func() (byte, error)) (uint64, int, error) {
	b, err := next()
	if err != nil {
		return 0, 0, err
	}
	n := 1
	offset := uint64(b & 0x7f)
	for b&0x80 != 0 {
		b, err = next()
		if err != nil {
			return 0, 0, err
		}
		n++
		offset++
		offset = (offset << 7) | uint64(b&0x7f)
	}
	return offset, n, nil
}

// writeSizeVarint encodes an unsigned length as a plain little-endian
// 7-bit varint (used for the delta header's base/target lengths).
func writeSizeVarint(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v > 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func readSizeVarint(next func() (byte, error)) (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := next()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 70 {
			return 0, fmt.Errorf("%w: size varint too long", errs.ErrCorruptPack)
		}
	}
	return v, nil
}
