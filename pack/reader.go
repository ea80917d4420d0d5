package pack

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	lru "github.com/golang/groupcache/lru"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
)

// Header is the parsed 12-byte pack header.
type Header struct {
	Version uint32
	Count   uint32
}

// ReadHeader parses and validates the 12-byte "PACK" header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [12]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("%w: reading pack header: %v", errs.ErrCorruptPack, err)
	}
	if string(buf[:4]) != PackHeaderMagic {
		return Header{}, fmt.Errorf("%w: missing PACK signature", errs.ErrCorruptPack)
	}
	version := binary.BigEndian.Uint32(buf[4:8])
	if version != SupportedVersions[0] && version != SupportedVersions[1] {
		return Header{}, fmt.Errorf("%w: unsupported pack version %d", errs.ErrCorruptPack, version)
	}
	count := binary.BigEndian.Uint32(buf[8:12])
	return Header{Version: version, Count: count}, nil
}

// RawEntry is one parsed-but-unresolved pack entry: either a whole
// object or a delta against a base identified by offset or identity.
type RawEntry struct {
	Offset      int64 // this entry's starting offset in the pack
	Type        entryType
	Size        uint64 // declared decompressed size
	Content     []byte // whole objects only; nil for deltas
	DeltaRaw    []byte // delta payload, for delta entries
	BaseOffset  int64  // OFS_DELTA: this entry's offset minus the backward distance
	BaseID      object.ID
	HasBaseID   bool
	BytesInPack int // total bytes this entry occupied in the pack stream
	CRC32       uint32
}

// ResolvedEntry is a fully decoded pack entry: delta chains have been
// applied, so Type and Content always describe the final object, never
// a delta payload.
type ResolvedEntry struct {
	ID      object.ID
	Type    object.Type
	Content []byte
	Offset  int64
	CRC32   uint32
}

// Observer receives each entry as a Parser walks a pack sequentially,
// so a PackIndex can be built in a single pass over the stream.
type Observer interface {
	OnEntry(e ResolvedEntry) error
}

// Scanner reads pack entries sequentially from a non-seekable stream,
// tracking the exact number of compressed bytes consumed per entry so
// callers can reconstruct byte offsets without random access.
type Scanner struct {
	r      *countingReader
	header Header
}

// NewScanner parses the pack header and prepares to scan entries.
func NewScanner(r io.Reader) (*Scanner, error) {
	cr := &countingReader{r: r}
	hdr, err := ReadHeader(cr)
	if err != nil {
		return nil, err
	}
	return &Scanner{r: cr, header: hdr}, nil
}

// Header returns the parsed pack header.
func (s *Scanner) Header() Header { return s.header }

// Offset returns the number of pack bytes consumed so far.
func (s *Scanner) Offset() int64 { return s.r.n }

// Next reads the next raw entry. Whole-object entries are fully
// inflated; delta entries' payload is inflated but left undecoded.
func (s *Scanner) Next() (RawEntry, error) {
	start := s.r.n
	s.r.startEntryCRC()
	nextByte := func() (byte, error) {
		var b [1]byte
		if _, err := io.ReadFull(s.r, b[:]); err != nil {
			return 0, fmt.Errorf("%w: %v", errs.ErrCorruptPack, err)
		}
		return b[0], nil
	}

	t, size, _, err := readEntryHeader(nextByte)
	if err != nil {
		return RawEntry{}, err
	}

	e := RawEntry{Offset: start, Type: t, Size: size}

	switch t {
	case entryOfsDelta:
		dist, _, err := readOffsetDelta(nextByte)
		if err != nil {
			return RawEntry{}, err
		}
		e.BaseOffset = start - int64(dist)
		if e.BaseOffset < 0 {
			return RawEntry{}, fmt.Errorf("%w: OFS_DELTA base offset out of range", errs.ErrCorruptPack)
		}
	case entryRefDelta:
		var idBytes [object.IDSize]byte
		if _, err := io.ReadFull(s.r, idBytes[:]); err != nil {
			return RawEntry{}, fmt.Errorf("%w: %v", errs.ErrCorruptPack, err)
		}
		id, err := object.IDFromBytes(idBytes[:])
		if err != nil {
			return RawEntry{}, fmt.Errorf("%w: %v", errs.ErrCorruptPack, err)
		}
		e.BaseID = id
		e.HasBaseID = true
	default:
		if _, ok := t.objectType(); !ok {
			return RawEntry{}, fmt.Errorf("%w: unknown pack entry type %d", errs.ErrCorruptPack, t)
		}
	}

	zr, err := zlib.NewReader(s.r)
	if err != nil {
		return RawEntry{}, fmt.Errorf("%w: %v", errs.ErrCorruptPack, err)
	}
	content, err := io.ReadAll(zr)
	if err != nil {
		return RawEntry{}, fmt.Errorf("%w: %v", errs.ErrCorruptPack, err)
	}
	if err := zr.Close(); err != nil {
		return RawEntry{}, fmt.Errorf("%w: %v", errs.ErrCorruptPack, err)
	}
	if uint64(len(content)) != size {
		return RawEntry{}, fmt.Errorf("%w: entry declared %d bytes, inflated %d", errs.ErrCorruptPack, size, len(content))
	}

	if t.isDelta() {
		e.DeltaRaw = content
	} else {
		e.Content = content
	}
	e.BytesInPack = int(s.r.n - start)
	e.CRC32 = s.r.entryCRC()
	return e, nil
}

type countingReader struct {
	r   io.Reader
	n   int64
	crc hash.Hash32
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.crc != nil && n > 0 {
		c.crc.Write(p[:n])
	}
	return n, err
}

// ReadByte lets compress/flate read one byte at a time instead of
// wrapping this reader in its own bufio.Reader, which would otherwise
// read ahead past this entry's deflate stream into the next entry's
// bytes and make the resulting pack offsets wrong.
func (c *countingReader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(c.r, b[:]); err != nil {
		return 0, err
	}
	c.n++
	if c.crc != nil {
		c.crc.Write(b[:])
	}
	return b[0], nil
}

// startEntryCRC begins accumulating a fresh CRC32 over subsequent reads,
// covering exactly the bytes of one pack entry (header + compressed
// content), as git's index CRC32 field is defined over.
func (c *countingReader) startEntryCRC() {
	c.crc = crc32.NewIEEE()
}

func (c *countingReader) entryCRC() uint32 {
	if c.crc == nil {
		return 0
	}
	return c.crc.Sum32()
}

type resolvedObj struct {
	content []byte
	typ     object.Type
}

// Parser walks a whole pack stream once, feeding each resolved entry to
// an Observer; it does not require random access. Every resolved entry is
// kept in memory, by offset and by identity, for the rest of the pass, so
// later deltas can use any earlier entry as their base.
type Parser struct {
	scanner *Scanner
	bases   map[int64]resolvedObj // offset -> resolved object, for OFS_DELTA
	byID    map[object.ID]resolvedObj
}

// NewParser prepares a Parser over r.
func NewParser(r io.Reader) (*Parser, error) {
	sc, err := NewScanner(r)
	if err != nil {
		return nil, err
	}
	return &Parser{scanner: sc, bases: map[int64]resolvedObj{}, byID: map[object.ID]resolvedObj{}}, nil
}

// Run feeds every entry in the pack to obs, resolving deltas against
// bases seen earlier in the same pass.
func (p *Parser) Run(obs Observer) error {
	for i := uint32(0); i < p.scanner.header.Count; i++ {
		raw, err := p.scanner.Next()
		if err != nil {
			return err
		}

		var resolved resolvedObj
		if raw.Type.isDelta() {
			var base resolvedObj
			var ok bool
			if raw.HasBaseID {
				base, ok = p.byID[raw.BaseID]
			} else {
				base, ok = p.bases[raw.BaseOffset]
			}
			if !ok {
				return fmt.Errorf("%w: delta base not found for entry at offset %d", errs.ErrCorruptPack, raw.Offset)
			}
			delta, err := DecodeGitDelta(raw.DeltaRaw)
			if err != nil {
				return err
			}
			content, err := ApplyGitDelta(base.content, delta)
			if err != nil {
				return err
			}
			resolved = resolvedObj{content: content, typ: base.typ}
		} else {
			typ, ok := raw.Type.objectType()
			if !ok {
				return fmt.Errorf("%w: unknown entry type at offset %d", errs.ErrCorruptPack, raw.Offset)
			}
			resolved = resolvedObj{content: raw.Content, typ: typ}
		}

		id := object.Identity(resolved.typ, resolved.content)
		p.bases[raw.Offset] = resolved
		p.byID[id] = resolved

		if err := obs.OnEntry(ResolvedEntry{
			ID:      id,
			Type:    resolved.typ,
			Content: resolved.content,
			Offset:  raw.Offset,
			CRC32:   raw.CRC32,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Packfile layers random access over a seekable pack plus its index:
// Get(id) and GetByOffset(offset) resolve delta chains on demand, with
// an LRU-bounded cache of resolved base content to keep repeated lookups
// of popular bases cheap.
type Packfile struct {
	ra    io.ReaderAt
	idx   *Index
	cache *lru.Cache

	maxChainDepth int
}

// DefaultMaxChainDepth bounds delta chain resolution.
const DefaultMaxChainDepth = 50

// NewPackfile wraps a seekable pack (ra) and its parsed index for random
// access, caching up to cacheSize resolved objects (cacheSize <= 0 uses
// a default of 256).
func NewPackfile(ra io.ReaderAt, idx *Index, cacheSize int) *Packfile {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	return &Packfile{ra: ra, idx: idx, cache: lru.New(cacheSize), maxChainDepth: DefaultMaxChainDepth}
}

// Index returns the parsed index backing this packfile's random access.
func (pf *Packfile) Index() *Index { return pf.idx }

// Get resolves id to its full, decoded content and object type.
func (pf *Packfile) Get(id object.ID) ([]byte, object.Type, error) {
	off, ok, err := pf.idx.FindOffset(id)
	if err != nil {
		return nil, object.InvalidType, err
	}
	if !ok {
		return nil, object.InvalidType, errs.ErrNotFound
	}
	return pf.GetByOffset(int64(off))
}

// GetByOffset resolves the entry starting at offset, walking any delta
// chain up to maxChainDepth.
func (pf *Packfile) GetByOffset(offset int64) ([]byte, object.Type, error) {
	return pf.resolve(offset, 0)
}

func (pf *Packfile) resolve(offset int64, depth int) ([]byte, object.Type, error) {
	if depth > pf.maxChainDepth {
		return nil, object.InvalidType, fmt.Errorf("%w: delta chain exceeds max depth %d", errs.ErrCorruptPack, pf.maxChainDepth)
	}
	if v, ok := pf.cache.Get(offset); ok {
		c := v.(cachedObject)
		return c.content, c.typ, nil
	}

	raw, err := pf.readEntryAt(offset)
	if err != nil {
		return nil, object.InvalidType, err
	}

	if !raw.Type.isDelta() {
		typ, ok := raw.Type.objectType()
		if !ok {
			return nil, object.InvalidType, fmt.Errorf("%w: unknown entry type", errs.ErrCorruptPack)
		}
		pf.cache.Add(offset, cachedObject{content: raw.Content, typ: typ})
		return raw.Content, typ, nil
	}

	var baseOffset int64
	if raw.HasBaseID {
		off, ok, err := pf.idx.FindOffset(raw.BaseID)
		if err != nil {
			return nil, object.InvalidType, err
		}
		if !ok {
			return nil, object.InvalidType, fmt.Errorf("%w: REF_DELTA base %s not in pack", errs.ErrCorruptPack, raw.BaseID)
		}
		baseOffset = int64(off)
	} else {
		baseOffset = raw.BaseOffset
	}

	base, typ, err := pf.resolve(baseOffset, depth+1)
	if err != nil {
		return nil, object.InvalidType, err
	}

	delta, err := DecodeGitDelta(raw.DeltaRaw)
	if err != nil {
		return nil, object.InvalidType, err
	}
	content, err := ApplyGitDelta(base, delta)
	if err != nil {
		return nil, object.InvalidType, err
	}

	pf.cache.Add(offset, cachedObject{content: content, typ: typ})
	return content, typ, nil
}

type cachedObject struct {
	content []byte
	typ     object.Type
}

// readEntryAt reads and inflates exactly one entry starting at offset,
// using the ReaderAt to seek without disturbing any other reader.
func (pf *Packfile) readEntryAt(offset int64) (RawEntry, error) {
	sr := io.NewSectionReader(pf.ra, offset, 1<<62-offset)
	pos := int64(0)
	nextByte := func() (byte, error) {
		var b [1]byte
		if _, err := sr.ReadAt(b[:], pos); err != nil {
			return 0, fmt.Errorf("%w: %v", errs.ErrCorruptPack, err)
		}
		pos++
		return b[0], nil
	}

	t, size, _, err := readEntryHeader(nextByte)
	if err != nil {
		return RawEntry{}, err
	}
	e := RawEntry{Offset: offset, Type: t, Size: size}

	switch t {
	case entryOfsDelta:
		dist, _, err := readOffsetDelta(nextByte)
		if err != nil {
			return RawEntry{}, err
		}
		e.BaseOffset = offset - int64(dist)
	case entryRefDelta:
		var idBytes [object.IDSize]byte
		for i := range idBytes {
			b, err := nextByte()
			if err != nil {
				return RawEntry{}, err
			}
			idBytes[i] = b
		}
		id, err := object.IDFromBytes(idBytes[:])
		if err != nil {
			return RawEntry{}, err
		}
		e.BaseID = id
		e.HasBaseID = true
	}

	compressed := io.NewSectionReader(pf.ra, offset+pos, 1<<62-(offset+pos))
	zr, err := zlib.NewReader(compressed)
	if err != nil {
		return RawEntry{}, fmt.Errorf("%w: %v", errs.ErrCorruptPack, err)
	}
	defer zr.Close()
	content, err := io.ReadAll(zr)
	if err != nil {
		return RawEntry{}, fmt.Errorf("%w: %v", errs.ErrCorruptPack, err)
	}
	if uint64(len(content)) != size {
		return RawEntry{}, fmt.Errorf("%w: entry declared %d bytes, inflated %d", errs.ErrCorruptPack, size, len(content))
	}

	if t.isDelta() {
		e.DeltaRaw = content
	} else {
		e.Content = content
	}
	return e, nil
}

// VerifyTrailer checks that the last 20 bytes of a complete pack equal
// the SHA-1 of every preceding byte.
func VerifyTrailer(fullPack []byte) error {
	if len(fullPack) < 20 {
		return fmt.Errorf("%w: pack shorter than trailer", errs.ErrCorruptPack)
	}
	body, trailer := fullPack[:len(fullPack)-20], fullPack[len(fullPack)-20:]
	h := object.NewHash()
	h.Write(body)
	sum := h.Sum()
	if !bytes.Equal(sum.Bytes(), trailer) {
		return fmt.Errorf("%w: pack trailer checksum mismatch", errs.ErrCorruptPack)
	}
	return nil
}
