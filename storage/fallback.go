package storage

import (
	"errors"
	"io"

	"github.com/opencore-vcs/gitcore/errs"
)

// FallbackStorage reads through primary first, falling back to secondary
// on a miss. Writes and removes only ever touch primary, matching the
// split between loose objects (writable) and a packed backing store
// (read-only from the object store's point of view).
type FallbackStorage struct {
	primary   RawStorage
	secondary RawStorage
}

// NewFallbackStorage composes primary over secondary.
func NewFallbackStorage(primary, secondary RawStorage) *FallbackStorage {
	return &FallbackStorage{primary: primary, secondary: secondary}
}

func (f *FallbackStorage) Store(key string, r io.Reader) error {
	return f.primary.Store(key, r)
}

func (f *FallbackStorage) Load(key string, rng Range) (io.ReadCloser, error) {
	r, err := f.primary.Load(key, rng)
	if err == nil {
		return r, nil
	}
	if errors.Is(err, errs.ErrNotFound) {
		return f.secondary.Load(key, rng)
	}
	return nil, err
}

func (f *FallbackStorage) Has(key string) (bool, error) {
	ok, err := f.primary.Has(key)
	if err != nil || ok {
		return ok, err
	}
	return f.secondary.Has(key)
}

func (f *FallbackStorage) Remove(key string) (bool, error) {
	return f.primary.Remove(key)
}

func (f *FallbackStorage) Keys() (KeyIterator, error) {
	primaryKeys, err := f.primary.Keys()
	if err != nil {
		return nil, err
	}
	secondaryKeys, err := f.secondary.Keys()
	if err != nil {
		primaryKeys.Close()
		return nil, err
	}
	return &chainedKeyIterator{iters: []KeyIterator{primaryKeys, secondaryKeys}}, nil
}

func (f *FallbackStorage) Size(key string) (int64, error) {
	size, err := f.primary.Size(key)
	if err == nil {
		return size, nil
	}
	if errors.Is(err, errs.ErrNotFound) {
		return f.secondary.Size(key)
	}
	return 0, err
}

type chainedKeyIterator struct {
	iters []KeyIterator
	pos   int
}

func (c *chainedKeyIterator) Next() (string, error) {
	for c.pos < len(c.iters) {
		k, err := c.iters[c.pos].Next()
		if err == nil {
			return k, nil
		}
		c.pos++
	}
	return "", io.EOF
}

func (c *chainedKeyIterator) Close() error {
	var firstErr error
	for _, it := range c.iters {
		if err := it.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
