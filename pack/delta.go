package pack

import (
	"fmt"

	"github.com/opencore-vcs/gitcore/errs"
)

// InstrKind identifies one delta instruction.
type InstrKind uint8

const (
	InstrCopy InstrKind = iota
	InstrInsert
)

// Instr is one instruction in the format-agnostic delta intermediate
// form: either a copy of base[Start:Start+Len] or a literal insert of
// Data. A stream of Instrs, preceded by the base/target lengths, fully
// describes how to reconstruct a target from a base.
type Instr struct {
	Kind  InstrKind
	Start int // copy only
	Len   int // copy only
	Data  []byte // insert only
}

// Delta is a complete, validated instruction sequence for reconstructing
// a target of TargetLen bytes from a base of BaseLen bytes.
type Delta struct {
	BaseLen   int
	TargetLen int
	Instrs    []Instr
}

// maxInsertLen is the largest literal length a single insert
// instruction's one-byte length prefix can carry (1..127).
const maxInsertLen = 127

// maxCopySize is the largest size a single copy instruction's bit-packed
// size field can represent directly; 0 in the encoded size means this
// value per git's convention.
const maxCopySize = 0x10000

// Validate checks the structural invariants required of any Delta before
// it is serialized or applied: instruction lengths sum to TargetLen, and
// every copy stays within [0, BaseLen].
func (d *Delta) Validate() error {
	total := 0
	for _, ins := range d.Instrs {
		switch ins.Kind {
		case InstrCopy:
			if ins.Start < 0 || ins.Len < 0 || ins.Start+ins.Len > d.BaseLen {
				return fmt.Errorf("%w: copy [%d,%d) out of base range [0,%d)", errs.ErrCorruptPack, ins.Start, ins.Start+ins.Len, d.BaseLen)
			}
			total += ins.Len
		case InstrInsert:
			if len(ins.Data) > maxInsertLen {
				return fmt.Errorf("%w: insert of %d bytes exceeds %d-byte limit", errs.ErrCorruptPack, len(ins.Data), maxInsertLen)
			}
			total += len(ins.Data)
		default:
			return fmt.Errorf("%w: unknown delta instruction kind %d", errs.ErrCorruptPack, ins.Kind)
		}
	}
	if total != d.TargetLen {
		return fmt.Errorf("%w: delta instructions sum to %d bytes, want %d", errs.ErrCorruptPack, total, d.TargetLen)
	}
	return nil
}

// EncodeGitDelta serializes d in Git's binary delta format: varint base
// length, varint target length, then one encoded instruction per Instr.
// Inserts are not split: Validate rejects any insert longer than
// maxInsertLen bytes, and EncodeGitDelta returns that error.
func EncodeGitDelta(d *Delta) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	out := append([]byte{}, writeSizeVarint(uint64(d.BaseLen))...)
	out = append(out, writeSizeVarint(uint64(d.TargetLen))...)

	for _, ins := range d.Instrs {
		switch ins.Kind {
		case InstrCopy:
			out = append(out, encodeCopy(ins.Start, ins.Len)...)
		case InstrInsert:
			data := ins.Data
			for len(data) > 0 {
				n := len(data)
				if n > maxInsertLen {
					n = maxInsertLen
				}
				out = append(out, byte(n))
				out = append(out, data[:n]...)
				data = data[n:]
			}
		}
	}
	return out, nil
}

func encodeCopy(start, size int) []byte {
	var offBytes, sizeBytes []byte
	var mask byte = 0x80

	off := uint32(start)
	for i := 0; i < 4; i++ {
		b := byte(off >> (8 * i))
		if b != 0 {
			offBytes = append(offBytes, b)
			mask |= 1 << uint(i)
		}
	}

	sz := uint32(size)
	if sz == maxCopySize {
		sz = 0 // git's convention: size field 0 means the default 0x10000
	}
	for i := 0; i < 3; i++ {
		b := byte(sz >> (8 * i))
		if b != 0 {
			sizeBytes = append(sizeBytes, b)
			mask |= 1 << uint(4+i)
		}
	}

	out := []byte{mask}
	out = append(out, offBytes...)
	out = append(out, sizeBytes...)
	return out
}

// DecodeGitDelta parses Git's binary delta format back into a Delta.
func DecodeGitDelta(raw []byte) (*Delta, error) {
	pos := 0
	next := func() (byte, error) {
		if pos >= len(raw) {
			return 0, fmt.Errorf("%w: truncated delta stream", errs.ErrCorruptPack)
		}
		b := raw[pos]
		pos++
		return b, nil
	}

	baseLen, err := readSizeVarint(next)
	if err != nil {
		return nil, err
	}
	targetLen, err := readSizeVarint(next)
	if err != nil {
		return nil, err
	}

	d := &Delta{BaseLen: int(baseLen), TargetLen: int(targetLen)}
	for pos < len(raw) {
		opcode, err := next()
		if err != nil {
			return nil, err
		}
		if opcode&0x80 != 0 {
			start, size := 0, 0
			for i := 0; i < 4; i++ {
				if opcode&(1<<uint(i)) != 0 {
					b, err := next()
					if err != nil {
						return nil, err
					}
					start |= int(b) << (8 * i)
				}
			}
			for i := 0; i < 3; i++ {
				if opcode&(1<<uint(4+i)) != 0 {
					b, err := next()
					if err != nil {
						return nil, err
					}
					size |= int(b) << (8 * i)
				}
			}
			if size == 0 {
				size = maxCopySize
			}
			d.Instrs = append(d.Instrs, Instr{Kind: InstrCopy, Start: start, Len: size})
		} else if opcode != 0 {
			n := int(opcode)
			if pos+n > len(raw) {
				return nil, fmt.Errorf("%w: truncated insert instruction", errs.ErrCorruptPack)
			}
			data := make([]byte, n)
			copy(data, raw[pos:pos+n])
			pos += n
			d.Instrs = append(d.Instrs, Instr{Kind: InstrInsert, Data: data})
		} else {
			return nil, fmt.Errorf("%w: reserved delta opcode 0", errs.ErrCorruptPack)
		}
	}
	return d, nil
}

// ApplyGitDelta reconstructs the target content from base and a Delta,
// validating the declared base length matches base's actual length and
// that the reconstructed output matches the declared target length
// exactly.
func ApplyGitDelta(base []byte, d *Delta) ([]byte, error) {
	if d.BaseLen != len(base) {
		return nil, fmt.Errorf("%w: delta expects base of %d bytes, got %d", errs.ErrIntegrityMismatch, d.BaseLen, len(base))
	}

	out := make([]byte, 0, d.TargetLen)
	for _, ins := range d.Instrs {
		switch ins.Kind {
		case InstrCopy:
			if ins.Start+ins.Len > len(base) {
				return nil, fmt.Errorf("%w: copy out of base bounds", errs.ErrCorruptPack)
			}
			out = append(out, base[ins.Start:ins.Start+ins.Len]...)
		case InstrInsert:
			out = append(out, ins.Data...)
		}
	}
	if len(out) != d.TargetLen {
		return nil, fmt.Errorf("%w: delta produced %d bytes, want %d", errs.ErrIntegrityMismatch, len(out), d.TargetLen)
	}
	return out, nil
}
