package pack

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
)

// PendingEntry is one object buffered in a PendingPack, either stored
// whole or as a candidate for delta compression against a base already
// known to the pack.
type PendingEntry struct {
	ID      object.ID
	Type    object.Type
	Content []byte

	// DeltaBase, if non-zero, names an object this entry should be
	// attempted as a delta against (best-effort: falls back to whole
	// object storage if the delta doesn't meet the compression ratio).
	DeltaBase object.ID
}

// PendingPack is an append-only buffer of objects awaiting flush to a
// .pack/.idx pair, bounded by object count and total byte size.
type PendingPack struct {
	mu         sync.Mutex
	entries    []PendingEntry
	totalBytes int64

	maxObjects int
	maxBytes   int64
}

// DefaultMaxObjects and DefaultMaxBytes are PendingPack's flush
// thresholds, matching the defaults named in the spec.
const (
	DefaultMaxObjects = 100
	DefaultMaxBytes   = 10 << 20 // 10 MiB
)

// NewPendingPack creates an empty buffer with the given thresholds
// (0 uses the defaults).
func NewPendingPack(maxObjects int, maxBytes int64) *PendingPack {
	if maxObjects <= 0 {
		maxObjects = DefaultMaxObjects
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &PendingPack{maxObjects: maxObjects, maxBytes: maxBytes}
}

// Add appends an entry to the buffer.
func (p *PendingPack) Add(e PendingEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
	p.totalBytes += int64(len(e.Content))
}

// ShouldFlush reports whether either threshold has been reached.
func (p *PendingPack) ShouldFlush() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) >= p.maxObjects || p.totalBytes >= p.maxBytes
}

// Len returns the number of buffered entries.
func (p *PendingPack) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Snapshot returns a copy of the currently buffered entries, for a
// caller (e.g. DeltaBatch) that needs to inspect them ahead of Flush.
func (p *PendingPack) Snapshot() []PendingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PendingEntry(nil), p.entries...)
}

// FlushResult is the output of compressing and serializing a
// PendingPack: the finished .pack bytes, its .idx bytes, and the delta
// metadata sidecar entries produced for any objects stored as deltas.
type FlushResult struct {
	PackBytes  []byte
	IndexBytes []byte
	Checksum   object.ID
	Deltas     []DeltaRecord
}

// DeltaRecord is one sidecar metadata entry for an object stored as a
// delta, as produced by Flush and consumed by PackDeltaStore.
type DeltaRecord struct {
	TargetKey      object.ID
	BaseKey        object.ID
	PackName       string
	Offset         int64
	Depth          int
	CompressedSize int
	OriginalSize   int
}

// FlushOptions tunes Flush's behavior.
type FlushOptions struct {
	Delta         DeltaOptions
	MaxWorkers    int64 // bounded worker pool size for delta-candidate compression
	CompressLevel int
	PackName      string // used only to populate DeltaRecord.PackName

	// ExternalBases supplies content for delta bases that aren't
	// themselves part of this flush's entries (e.g. an object already
	// published in an earlier pack). Entries always take precedence
	// over this map when both define the same id.
	ExternalBases map[object.ID][]byte
}

// Flush serializes entries into a pack: entries are written to the pack
// in the order they were added, after all delta-candidate compression
// (which may run concurrently on a bounded worker pool) has completed
// and joined, so observable ordering is exactly insertion order.
func (p *PendingPack) Flush(ctx context.Context, opts FlushOptions) (*FlushResult, error) {
	entries := p.Snapshot()

	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.CompressLevel == 0 {
		opts.CompressLevel = zlib.DefaultCompression
	}

	byID := make(map[object.ID][]byte, len(entries)+len(opts.ExternalBases))
	for id, content := range opts.ExternalBases {
		byID[id] = content
	}
	for _, e := range entries {
		byID[e.ID] = e.Content
	}

	compiled := make([]compiledEntry, len(entries))
	sem := semaphore.NewWeighted(opts.MaxWorkers)
	g, gctx := errgroup.WithContext(ctx)

	for i, e := range entries {
		i, e := i, e
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			ce, err := compileEntry(e, byID, opts)
			if err != nil {
				return err
			}
			compiled[i] = ce
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return assemblePack(compiled, opts)
}

type compiledEntry struct {
	entry      PendingEntry
	isDelta    bool
	baseID     object.ID
	deltaBytes []byte
}

func compileEntry(e PendingEntry, byID map[object.ID][]byte, opts FlushOptions) (compiledEntry, error) {
	if !e.DeltaBase.IsZero() {
		if base, ok := byID[e.DeltaBase]; ok {
			if delta, ok := CreateDelta(base, e.Content, opts.Delta); ok {
				encoded, err := EncodeGitDelta(delta)
				if err == nil {
					return compiledEntry{entry: e, isDelta: true, baseID: e.DeltaBase, deltaBytes: encoded}, nil
				}
			}
		}
	}
	return compiledEntry{entry: e}, nil
}

func assemblePack(compiled []compiledEntry, opts FlushOptions) (*FlushResult, error) {
	var body bytes.Buffer

	var header [12]byte
	copy(header[:4], PackHeaderMagic)
	binary.BigEndian.PutUint32(header[4:8], 2)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(compiled)))
	body.Write(header[:])

	idOffsets := make(map[object.ID]int64, len(compiled))
	var indexEntries []IndexEntry
	var deltas []DeltaRecord

	for _, ce := range compiled {
		offset := int64(body.Len())
		idOffsets[ce.entry.ID] = offset

		var payload []byte
		var entryT entryType
		var baseOffsetBytes []byte

		if ce.isDelta {
			payload = ce.deltaBytes
			if baseOff, ok := idOffsets[ce.baseID]; ok {
				entryT = entryOfsDelta
				baseOffsetBytes = writeOffsetDelta(uint64(offset - baseOff))
			} else {
				entryT = entryRefDelta
			}
		} else {
			t, err := entryTypeForObject(ce.entry.Type)
			if err != nil {
				return nil, err
			}
			entryT = t
			payload = ce.entry.Content
		}

		// The header's declared size is the length of the bytes actually
		// deflated below (payload): for a delta entry that's the encoded
		// delta stream, not the target object's full content length.
		hdrBytes := writeEntryHeader(entryT, uint64(len(payload)))
		body.Write(hdrBytes)

		if ce.isDelta {
			if entryT == entryOfsDelta {
				body.Write(baseOffsetBytes)
			} else {
				body.Write(ce.baseID.Bytes())
			}
		}

		var compressed bytes.Buffer
		zw, err := zlib.NewWriterLevel(&compressed, opts.CompressLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
		}

		entryStart := offset
		body.Write(compressed.Bytes())

		crc := crc32.ChecksumIEEE(body.Bytes()[entryStart:])
		indexEntries = append(indexEntries, IndexEntry{ID: ce.entry.ID, Offset: uint64(offset), CRC32: crc})

		if ce.isDelta {
			deltas = append(deltas, DeltaRecord{
				TargetKey:      ce.entry.ID,
				BaseKey:        ce.baseID,
				PackName:       opts.PackName,
				Offset:         offset,
				CompressedSize: compressed.Len(),
				OriginalSize:   len(ce.entry.Content),
			})
		}
	}

	h := object.NewHash()
	h.Write(body.Bytes())
	checksum := h.Sum()
	body.Write(checksum.Bytes())

	var idx bytes.Buffer
	if err := WriteIndex(&idx, indexEntries, checksum, false); err != nil {
		return nil, err
	}

	return &FlushResult{
		PackBytes:  body.Bytes(),
		IndexBytes: idx.Bytes(),
		Checksum:   checksum,
		Deltas:     deltas,
	}, nil
}
