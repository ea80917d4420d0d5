package gitcore

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
	"github.com/opencore-vcs/gitcore/storage"
)

// PackedStorage adapts a FilePackDirectory's packs into a read-only
// storage.RawStorage, so objectstore.New can fall back to pack-resident
// objects through the same RawStorage.Load contract loose objects use
// (storage.NewFallbackStorage(loose, packed)). Store and Remove are
// rejected: packs are only ever written wholesale via PendingPack.Flush
// + FilePackDirectory.Publish.
type PackedStorage struct {
	dir *FilePackDirectory
}

// NewPackedStorage wraps dir as a RawStorage.
func NewPackedStorage(dir *FilePackDirectory) *PackedStorage {
	return &PackedStorage{dir: dir}
}

func (p *PackedStorage) find(key string) ([]byte, object.Type, bool, error) {
	id, err := object.ParseID(key)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	for _, name := range p.dir.Names() {
		pf, err := p.dir.Open(name)
		if err != nil {
			return nil, 0, false, err
		}
		content, typ, err := pf.Get(id)
		if err == nil {
			return content, typ, true, nil
		}
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		return nil, 0, false, err
	}
	return nil, 0, false, nil
}

func (p *PackedStorage) framed(key string) ([]byte, error) {
	content, typ, ok, err := p.find(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotFound
	}
	var buf bytes.Buffer
	if err := object.WriteHeader(&buf, typ, int64(len(content))); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	buf.Write(content)
	return buf.Bytes(), nil
}

func (p *PackedStorage) Store(key string, r io.Reader) error {
	return fmt.Errorf("%w: packed storage is read-only", errs.ErrInvalidInput)
}

func (p *PackedStorage) Load(key string, rng storage.Range) (io.ReadCloser, error) {
	data, err := p.framed(key)
	if err != nil {
		return nil, err
	}
	if err := validatePackedRange(rng, int64(len(data))); err != nil {
		return nil, err
	}
	end := rng.End
	if end == -1 {
		end = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[rng.Start:end])), nil
}

func (p *PackedStorage) Has(key string) (bool, error) {
	_, _, ok, err := p.find(key)
	return ok, err
}

func (p *PackedStorage) Remove(key string) (bool, error) {
	return false, fmt.Errorf("%w: packed storage is read-only", errs.ErrInvalidInput)
}

func (p *PackedStorage) Size(key string) (int64, error) {
	data, err := p.framed(key)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (p *PackedStorage) Keys() (storage.KeyIterator, error) {
	seen := map[string]bool{}
	var keys []string
	for _, name := range p.dir.Names() {
		ids, err := p.dir.IndexIDs(name)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			k := id.String()
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return &packKeyIterator{keys: keys}, nil
}

func validatePackedRange(rng storage.Range, total int64) error {
	if rng.Start < 0 || rng.Start > total {
		return fmt.Errorf("%w: range start %d out of [0,%d]", errs.ErrInvalidInput, rng.Start, total)
	}
	end := rng.End
	if end == -1 {
		end = total
	}
	if end < rng.Start || end > total {
		return fmt.Errorf("%w: range end %d out of [0,%d]", errs.ErrInvalidInput, rng.End, total)
	}
	return nil
}

type packKeyIterator struct {
	keys []string
	pos  int
}

func (it *packKeyIterator) Next() (string, error) {
	if it.pos >= len(it.keys) {
		return "", io.EOF
	}
	k := it.keys[it.pos]
	it.pos++
	return k, nil
}

func (it *packKeyIterator) Close() error { return nil }
