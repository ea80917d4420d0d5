package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
)

// deltaSidecarRecord is the on-disk shape of one PackDeltaStore metadata
// entry, persisted as a line of JSON in the sidecar file.
type deltaSidecarRecord struct {
	TargetKey      string `json:"target"`
	BaseKey        string `json:"base"`
	PackName       string `json:"pack"`
	Offset         int64  `json:"offset"`
	CompressedSize int    `json:"csize"`
	OriginalSize   int    `json:"osize"`
}

// BaseResolver looks up the content of an object already stored outside
// the batch currently being compiled (typically in an earlier pack or
// loose), so StoreDelta can target a base that isn't part of the same
// flush. found is false, with a nil error, when id is simply unknown.
type BaseResolver func(id object.ID) (content []byte, found bool, err error)

// ChainInfo describes a delta's ancestry, as walked by GetDeltaChainInfo.
type ChainInfo struct {
	BaseKey        object.ID
	Depth          int
	OriginalSize   int
	CompressedSize int
	Chain          []object.ID
}

// DeltaBatch accumulates objects for one atomic PackDeltaStore update,
// returned by StartUpdate and committed on Close.
type DeltaBatch struct {
	store   *PackDeltaStore
	pending *PendingPack
	closed  bool
}

// Len reports how many objects are currently staged in this batch.
func (b *DeltaBatch) Len() int { return b.pending.Len() }

// StoreObject buffers a whole object for this batch.
func (b *DeltaBatch) StoreObject(id object.ID, t object.Type, content []byte) {
	b.pending.Add(PendingEntry{ID: id, Type: t, Content: content})
}

// StoreDelta buffers targetKey to be written as a delta against baseKey,
// best-effort: PendingPack.Flush falls back to whole-object storage if
// the delta doesn't compress well enough, or if baseKey's content can't
// be resolved at all (neither present in this same batch nor, when a
// BaseResolver is configured, anywhere else already stored).
func (b *DeltaBatch) StoreDelta(baseKey, targetKey object.ID, t object.Type, content []byte) {
	b.pending.Add(PendingEntry{ID: targetKey, Type: t, Content: content, DeltaBase: baseKey})
}

// externalBases resolves delta bases referenced by this batch's entries
// but not themselves staged in the batch, via the store's BaseResolver.
func (b *DeltaBatch) externalBases(entries []PendingEntry) (map[object.ID][]byte, error) {
	if b.store.baseResolver == nil {
		return nil, nil
	}

	inBatch := make(map[object.ID]bool, len(entries))
	for _, e := range entries {
		inBatch[e.ID] = true
	}

	resolved := map[object.ID][]byte{}
	for _, e := range entries {
		if e.DeltaBase.IsZero() || inBatch[e.DeltaBase] {
			continue
		}
		if _, ok := resolved[e.DeltaBase]; ok {
			continue
		}
		content, found, err := b.store.baseResolver(e.DeltaBase)
		if err != nil {
			return nil, err
		}
		if found {
			resolved[e.DeltaBase] = content
		}
	}
	return resolved, nil
}

// Close flushes the batch to a new pack and commits its delta sidecar
// entries, atomically: the pack and index are published together, and
// the sidecar is updated only after that publication succeeds.
func (b *DeltaBatch) Close(ctx context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.pending.Len() == 0 {
		return nil
	}

	entries := b.pending.Snapshot()
	externalBases, err := b.externalBases(entries)
	if err != nil {
		return err
	}

	result, err := b.pending.Flush(ctx, FlushOptions{
		Delta:         b.store.deltaOpts,
		PackName:      b.store.nextPackName(),
		ExternalBases: externalBases,
	})
	if err != nil {
		return err
	}
	// Records name the pack after its checksum, as FilePackDirectory
	// publishes it, so LoadDelta can Open it by that name later.
	for i := range result.Deltas {
		result.Deltas[i].PackName = "pack-" + result.Checksum.String()
	}
	if err := b.store.dir.Publish(ctx, result); err != nil {
		return err
	}

	b.store.mu.Lock()
	for _, rec := range result.Deltas {
		b.store.records[rec.TargetKey] = rec
	}
	b.store.mu.Unlock()
	b.store.scheduleSave()
	return nil
}

// PackDirectory is the minimal external contract PackDeltaStore needs
// from wherever finished packs are published and later read back.
type PackDirectory interface {
	// Publish atomically installs a flushed pack (and its index) so it
	// becomes visible to subsequent reads as a single unit.
	Publish(ctx context.Context, result *FlushResult) error
	// Open returns a Packfile for the named pack, for delta resolution.
	Open(packName string) (*Packfile, error)
}

// PackDeltaStore implements the DeltaStore contract over pack files,
// backed by a JSON-lines sidecar metadata index recording, per target
// object, which base it was delta-encoded against.
type PackDeltaStore struct {
	dir          PackDirectory
	sidecar      billy.Filesystem
	sidecarPath  string
	deltaOpts    DeltaOptions
	baseResolver BaseResolver

	mu        sync.Mutex
	records   map[object.ID]DeltaRecord
	dirty     bool
	saveTimer *time.Timer
	saveDelay time.Duration
	packSeq   int
}

// NewPackDeltaStore opens (or initializes) a delta store whose sidecar
// metadata lives at sidecarPath on fs.
func NewPackDeltaStore(dir PackDirectory, fs billy.Filesystem, sidecarPath string, opts DeltaOptions) (*PackDeltaStore, error) {
	s := &PackDeltaStore{
		dir:         dir,
		sidecar:     fs,
		sidecarPath: sidecarPath,
		deltaOpts:   opts.withDefaults(),
		records:     map[object.ID]DeltaRecord{},
		saveDelay:   time.Second,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetBaseResolver installs the lookup a DeltaBatch consults for a delta
// base that isn't part of the batch being flushed (e.g. an object
// already published in an earlier pack, or still loose). Without one,
// StoreDelta only ever succeeds against a base staged in the same
// batch.
func (s *PackDeltaStore) SetBaseResolver(resolver BaseResolver) {
	s.baseResolver = resolver
}

func (s *PackDeltaStore) load() error {
	f, err := s.sidecar.Open(s.sidecarPath)
	if err != nil {
		return nil // no sidecar yet: a fresh store
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for dec.More() {
		var rec deltaSidecarRecord
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("%w: decoding delta sidecar: %v", errs.ErrCorruptPack, err)
		}
		target, err := object.ParseID(rec.TargetKey)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrCorruptPack, err)
		}
		base, err := object.ParseID(rec.BaseKey)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrCorruptPack, err)
		}
		s.records[target] = DeltaRecord{
			TargetKey:      target,
			BaseKey:        base,
			PackName:       rec.PackName,
			Offset:         rec.Offset,
			CompressedSize: rec.CompressedSize,
			OriginalSize:   rec.OriginalSize,
		}
	}
	return nil
}

// scheduleSave debounces persistence of the sidecar: repeated updates
// within saveDelay collapse into a single write.
func (s *PackDeltaStore) scheduleSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.saveDelay, func() {
		_ = s.saveNow()
	})
}

func (s *PackDeltaStore) saveNow() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	records := make([]DeltaRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	s.dirty = false
	s.mu.Unlock()

	tmpPath := s.sidecarPath + ".tmp"
	f, err := s.sidecar.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	enc := json.NewEncoder(f)
	for _, r := range records {
		rec := deltaSidecarRecord{
			TargetKey:      r.TargetKey.String(),
			BaseKey:        r.BaseKey.String(),
			PackName:       r.PackName,
			Offset:         r.Offset,
			CompressedSize: r.CompressedSize,
			OriginalSize:   r.OriginalSize,
		}
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return s.sidecar.Rename(tmpPath, s.sidecarPath)
}

// StartUpdate begins a new batch of object/delta writes.
func (s *PackDeltaStore) StartUpdate() *DeltaBatch {
	return &DeltaBatch{store: s, pending: NewPendingPack(0, 0)}
}

// IsDelta reports whether key is currently stored as a delta, consulting
// the metadata sidecar as the source of truth.
func (s *PackDeltaStore) IsDelta(key object.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok
}

// LoadedDelta is the result of LoadDelta: the stored delta instructions
// plus the base they apply against and the achieved compression ratio.
type LoadedDelta struct {
	BaseKey object.ID
	Delta   *Delta
	Ratio   float64
}

// LoadDelta returns the stored delta instructions for key. It does not
// flush pending batches: a key staged in a batch that has not been closed
// yet has no record, and LoadDelta reports errs.ErrNotFound for it.
func (s *PackDeltaStore) LoadDelta(key object.ID) (*LoadedDelta, error) {
	s.mu.Lock()
	rec, ok := s.records[key]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not stored as a delta", errs.ErrNotFound, key)
	}

	pf, err := s.dir.Open(rec.PackName)
	if err != nil {
		return nil, err
	}
	raw, err := pf.readEntryAt(rec.Offset)
	if err != nil {
		return nil, err
	}
	delta, err := DecodeGitDelta(raw.DeltaRaw)
	if err != nil {
		return nil, err
	}
	ratio := 0.0
	if rec.OriginalSize > 0 {
		ratio = float64(rec.CompressedSize) / float64(rec.OriginalSize)
	}
	return &LoadedDelta{BaseKey: rec.BaseKey, Delta: delta, Ratio: ratio}, nil
}

// GetDeltaChainInfo walks key's delta ancestry in the sidecar, stopping
// when a key has no sidecar entry (it is a base object, not a delta) or
// when depth exceeds maxChainDepth.
func (s *PackDeltaStore) GetDeltaChainInfo(key object.ID, maxChainDepth int) (*ChainInfo, error) {
	if maxChainDepth <= 0 {
		maxChainDepth = DefaultMaxChainDepth
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not stored as a delta", errs.ErrNotFound, key)
	}

	info := &ChainInfo{
		BaseKey:        rec.BaseKey,
		OriginalSize:   rec.OriginalSize,
		CompressedSize: rec.CompressedSize,
		Chain:          []object.ID{key},
	}

	cur := rec.BaseKey
	for depth := 1; depth <= maxChainDepth; depth++ {
		info.Chain = append(info.Chain, cur)
		next, ok := s.records[cur]
		if !ok {
			info.Depth = depth
			return info, nil
		}
		cur = next.BaseKey
	}
	info.Depth = maxChainDepth
	return info, fmt.Errorf("%w: delta chain for %s exceeds max depth %d", errs.ErrCorruptPack, key, maxChainDepth)
}

// Records returns a snapshot of every currently stored delta's sidecar
// metadata, for a repack driver scanning for consolidation candidates.
func (s *PackDeltaStore) Records() []DeltaRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeltaRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// RemoveDelta removes key's sidecar entry only; the underlying pack
// bytes are reclaimed solely by consolidation during GC repack.
func (s *PackDeltaStore) RemoveDelta(key object.ID) {
	s.mu.Lock()
	delete(s.records, key)
	s.dirty = true
	s.mu.Unlock()
	s.scheduleSave()
}

// Close flushes any debounced sidecar write before returning.
func (s *PackDeltaStore) Close() error {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.mu.Unlock()
	return s.saveNow()
}

func (s *PackDeltaStore) nextPackName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packSeq++
	return fmt.Sprintf("pack-%08d", s.packSeq)
}
