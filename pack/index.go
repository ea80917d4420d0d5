package pack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/emirpasic/gods/sets/treeset"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
)

// indexV2Magic is the 8-byte prefix identifying a V2 .idx file: "\xffTOC"
// followed by the big-endian version word 2.
var indexV2Magic = []byte{0xff, 'T', 'O', 'C', 0x00, 0x00, 0x00, 0x02}

// IndexEntry is one object's position in a pack, as fed to WriteIndex.
type IndexEntry struct {
	ID     object.ID
	Offset uint64
	CRC32  uint32
}

func idComparator(a, b interface{}) int {
	ea, eb := a.(IndexEntry), b.(IndexEntry)
	return ea.ID.Compare(eb.ID)
}

// sortEntries orders entries by ascending identity using an ordered set,
// the same data structure used for the GC reachable set, so both
// components share one "git identities are globally ordered" mechanism.
func sortEntries(entries []IndexEntry) []IndexEntry {
	set := treeset.NewWith(idComparator)
	for _, e := range entries {
		set.Add(e)
	}
	sorted := make([]IndexEntry, 0, len(entries))
	for _, v := range set.Values() {
		sorted = append(sorted, v.(IndexEntry))
	}
	return sorted
}

// WriteIndex emits a .idx file for entries (order-independent: entries
// are sorted by identity before anything is written) and packChecksum,
// the pack file's own trailing SHA-1. V2 is emitted unless every offset
// fits in 31 bits and forceV2 is false.
func WriteIndex(w io.Writer, entries []IndexEntry, packChecksum object.ID, forceV2 bool) error {
	sorted := sortEntries(entries)

	needsV2 := forceV2
	for _, e := range sorted {
		if e.Offset > 0x7fffffff {
			needsV2 = true
		}
	}

	var buf bytes.Buffer
	var err error
	if needsV2 {
		err = writeIndexV2Body(&buf, sorted, packChecksum)
	} else {
		err = writeIndexV1Body(&buf, sorted, packChecksum)
	}
	if err != nil {
		return err
	}

	h := object.NewHash()
	h.Write(buf.Bytes())
	sum := h.Sum()

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if _, err := w.Write(sum.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

func fanoutTable(sorted []IndexEntry) [256]uint32 {
	var fanout [256]uint32
	var idx int
	for b := 0; b < 256; b++ {
		for idx < len(sorted) && int(sorted[idx].ID.Bytes()[0]) <= b {
			idx++
		}
		fanout[b] = uint32(idx)
	}
	return fanout
}

func writeIndexV1Body(w io.Writer, sorted []IndexEntry, packChecksum object.ID) error {
	fanout := fanoutTable(sorted)
	for _, v := range fanout {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
	}
	for _, e := range sorted {
		if e.Offset > 0xffffffff {
			return fmt.Errorf("%w: offset %d does not fit in V1 index", errs.ErrInvalidInput, e.Offset)
		}
		if err := binary.Write(w, binary.BigEndian, uint32(e.Offset)); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
		if _, err := w.Write(e.ID.Bytes()); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
	}
	if _, err := w.Write(packChecksum.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

func writeIndexV2Body(w io.Writer, sorted []IndexEntry, packChecksum object.ID) error {
	if _, err := w.Write(indexV2Magic); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	fanout := fanoutTable(sorted)
	for _, v := range fanout {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
	}
	for _, e := range sorted {
		if _, err := w.Write(e.ID.Bytes()); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
	}
	for _, e := range sorted {
		if err := binary.Write(w, binary.BigEndian, e.CRC32); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
	}

	var overflow []uint64
	for _, e := range sorted {
		if e.Offset > 0x7fffffff {
			idx := uint32(len(overflow)) | 0x80000000
			overflow = append(overflow, e.Offset)
			if err := binary.Write(w, binary.BigEndian, idx); err != nil {
				return fmt.Errorf("%w: %v", errs.ErrIO, err)
			}
		} else {
			if err := binary.Write(w, binary.BigEndian, uint32(e.Offset)); err != nil {
				return fmt.Errorf("%w: %v", errs.ErrIO, err)
			}
		}
	}
	for _, off := range overflow {
		if err := binary.Write(w, binary.BigEndian, off); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
	}

	if _, err := w.Write(packChecksum.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

// Index is a parsed, queryable .idx file.
type Index struct {
	version  uint32
	fanout   [256]uint32
	ids      [][]byte // V2 only; V1 identities live in v1
	offsets  []uint32
	crc32s   []uint32 // nil for V1
	overflow []uint64
	v1       []v1Entry
	packSum  object.ID
	idxSum   object.ID
}

type v1Entry struct {
	offset uint32
	id     object.ID
}

// ReadIndex parses a complete .idx file's bytes.
func ReadIndex(data []byte) (*Index, error) {
	if len(data) >= 8 && bytes.Equal(data[:8], indexV2Magic) {
		return readIndexV2(data)
	}
	return readIndexV1(data)
}

func readIndexV1(data []byte) (*Index, error) {
	const fanoutSize = 256 * 4
	if len(data) < fanoutSize+40 {
		return nil, fmt.Errorf("%w: index too short for V1 layout", errs.ErrCorruptPack)
	}
	idx := &Index{version: 1}
	for i := 0; i < 256; i++ {
		idx.fanout[i] = binary.BigEndian.Uint32(data[i*4 : i*4+4])
	}
	n := idx.fanout[255]
	pos := fanoutSize
	idx.v1 = make([]v1Entry, n)
	for i := uint32(0); i < n; i++ {
		if pos+24 > len(data) {
			return nil, fmt.Errorf("%w: truncated V1 index entries", errs.ErrCorruptPack)
		}
		off := binary.BigEndian.Uint32(data[pos : pos+4])
		var id object.ID
		copy(id[:], data[pos+4:pos+24])
		idx.v1[i] = v1Entry{offset: off, id: id}
		pos += 24
	}
	if pos+40 > len(data) {
		return nil, fmt.Errorf("%w: missing index trailer", errs.ErrCorruptPack)
	}
	copy(idx.packSum[:], data[pos:pos+20])
	copy(idx.idxSum[:], data[pos+20:pos+40])
	return idx, nil
}

func readIndexV2(data []byte) (*Index, error) {
	pos := 8
	if len(data) < pos+256*4+40 {
		return nil, fmt.Errorf("%w: index too short for V2 layout", errs.ErrCorruptPack)
	}
	idx := &Index{version: 2}
	for i := 0; i < 256; i++ {
		idx.fanout[i] = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}
	n := int(idx.fanout[255])

	if len(data) < pos+n*20 {
		return nil, fmt.Errorf("%w: truncated V2 id table", errs.ErrCorruptPack)
	}
	idx.ids = make([][]byte, n)
	for i := 0; i < n; i++ {
		idx.ids[i] = data[pos : pos+20]
		pos += 20
	}

	if len(data) < pos+n*4 {
		return nil, fmt.Errorf("%w: truncated V2 crc32 table", errs.ErrCorruptPack)
	}
	idx.crc32s = make([]uint32, n)
	for i := 0; i < n; i++ {
		idx.crc32s[i] = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	if len(data) < pos+n*4 {
		return nil, fmt.Errorf("%w: truncated V2 offset table", errs.ErrCorruptPack)
	}
	idx.offsets = make([]uint32, n)
	overflowCount := 0
	for i := 0; i < n; i++ {
		idx.offsets[i] = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
		if idx.offsets[i]&0x80000000 != 0 {
			overflowCount++
		}
	}

	if len(data) < pos+overflowCount*8+40 {
		return nil, fmt.Errorf("%w: truncated V2 overflow/trailer", errs.ErrCorruptPack)
	}
	idx.overflow = make([]uint64, overflowCount)
	for i := 0; i < overflowCount; i++ {
		idx.overflow[i] = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}

	copy(idx.packSum[:], data[pos:pos+20])
	copy(idx.idxSum[:], data[pos+20:pos+40])
	return idx, nil
}

// Count returns the number of objects indexed.
func (idx *Index) Count() int { return int(idx.fanout[255]) }

// PackChecksum returns the pack's trailing SHA-1 as stamped in the index.
func (idx *Index) PackChecksum() object.ID { return idx.packSum }

// FindOffset locates id's byte offset within the pack, returning
// (offset, true, nil) on a hit or (0, false, nil) on a clean miss.
func (idx *Index) FindOffset(id object.ID) (uint64, bool, error) {
	if idx.version == 1 {
		lo, hi := idx.fanoutRange(id.Bytes()[0])
		i := sort.Search(hi-lo, func(k int) bool {
			return bytes.Compare(idx.v1[lo+k].id.Bytes(), id.Bytes()) >= 0
		})
		pos := lo + i
		if pos >= hi || idx.v1[pos].id != id {
			return 0, false, nil
		}
		return uint64(idx.v1[pos].offset), true, nil
	}

	lo, hi := idx.fanoutRange(id.Bytes()[0])
	i := sort.Search(hi-lo, func(k int) bool {
		return bytes.Compare(idx.ids[lo+k], id.Bytes()) >= 0
	})
	pos := lo + i
	if pos >= hi || !bytes.Equal(idx.ids[pos], id.Bytes()) {
		return 0, false, nil
	}
	off := idx.offsets[pos]
	if off&0x80000000 != 0 {
		oi := off &^ 0x80000000
		if int(oi) >= len(idx.overflow) {
			return 0, false, fmt.Errorf("%w: overflow index out of range", errs.ErrCorruptPack)
		}
		return idx.overflow[oi], true, nil
	}
	return uint64(off), true, nil
}

// FindCRC32 returns the stored CRC32 for id (V2 only).
func (idx *Index) FindCRC32(id object.ID) (uint32, bool, error) {
	if idx.version == 1 {
		return 0, false, fmt.Errorf("%w: CRC32 is not available in a V1 index", errs.ErrInvalidInput)
	}
	lo, hi := idx.fanoutRange(id.Bytes()[0])
	i := sort.Search(hi-lo, func(k int) bool {
		return bytes.Compare(idx.ids[lo+k], id.Bytes()) >= 0
	})
	pos := lo + i
	if pos >= hi || !bytes.Equal(idx.ids[pos], id.Bytes()) {
		return 0, false, nil
	}
	return idx.crc32s[pos], true, nil
}

func (idx *Index) fanoutRange(firstByte byte) (int, int) {
	lo := 0
	if firstByte > 0 {
		lo = int(idx.fanout[firstByte-1])
	}
	return lo, int(idx.fanout[firstByte])
}

// IDs returns every indexed identity in ascending order.
func (idx *Index) IDs() []object.ID {
	n := idx.Count()
	out := make([]object.ID, 0, n)
	if idx.version == 1 {
		for _, e := range idx.v1 {
			out = append(out, e.id)
		}
		return out
	}
	for _, raw := range idx.ids {
		var id object.ID
		copy(id[:], raw)
		out = append(out, id)
	}
	return out
}
