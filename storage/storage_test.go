package storage

import (
	"bytes"
	"io"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencore-vcs/gitcore/errs"
)

func allKeys(t *testing.T, s RawStorage) []string {
	t.Helper()
	it, err := s.Keys()
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for {
		k, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		keys = append(keys, k)
	}
	return keys
}

func TestShardedStorageStoreLoad(t *testing.T) {
	s := NewShardedStorage(memfs.New())

	key := "0123456789abcdef0123456789abcdef01234567"[:40]
	require.NoError(t, s.Store(key, bytes.NewReader([]byte("hello world"))))

	ok, err := s.Has(key)
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := s.Load(key, FullRange)
	require.NoError(t, err)
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, "hello world", string(content))

	size, err := s.Size(key)
	require.NoError(t, err)
	assert.EqualValues(t, 11, size)

	r2, err := s.Load(key, Range{Start: 6, End: 11})
	require.NoError(t, err)
	content2, err := io.ReadAll(r2)
	require.NoError(t, err)
	r2.Close()
	assert.Equal(t, "world", string(content2))

	assert.ElementsMatch(t, []string{key}, allKeys(t, s))

	removed, err := s.Remove(key)
	require.NoError(t, err)
	assert.True(t, removed)

	ok, err = s.Has(key)
	require.NoError(t, err)
	assert.False(t, ok)

	removedAgain, err := s.Remove(key)
	require.NoError(t, err)
	assert.False(t, removedAgain)
}

func TestShardedStorageMissingKey(t *testing.T) {
	s := NewShardedStorage(memfs.New())
	_, err := s.Load("0123456789abcdef0123456789abcdef01234567"[:40], FullRange)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestShardedStorageEmptyDirectoryYieldsNoKeys(t *testing.T) {
	s := NewShardedStorage(memfs.New())
	assert.Empty(t, allKeys(t, s))
}

func TestCompressedStorageRoundTrip(t *testing.T) {
	inner := NewShardedStorage(memfs.New())
	c := NewCompressedStorage(inner, 0)

	key := "0123456789abcdef0123456789abcdef01234567"[:40]
	payload := bytes.Repeat([]byte("payload-bytes-"), 100)
	require.NoError(t, c.Store(key, bytes.NewReader(payload)))

	size, err := c.Size(key)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), size)

	r, err := c.Load(key, Range{Start: 10, End: 20})
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, payload[10:20], got)

	// the inner store holds compressed bytes, smaller than the payload.
	innerSize, err := inner.Size(key)
	require.NoError(t, err)
	assert.Less(t, innerSize, int64(len(payload)))
}

func TestChunkedStorageRoundTrip(t *testing.T) {
	c, err := NewChunkedStorage(":memory:", 4)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Store("k1", bytes.NewReader([]byte("0123456789"))))

	size, err := c.Size("k1")
	require.NoError(t, err)
	assert.EqualValues(t, 10, size)

	r, err := c.Load("k1", FullRange)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))

	r2, err := c.Load("k1", Range{Start: 3, End: 7})
	require.NoError(t, err)
	got2, err := io.ReadAll(r2)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(got2))

	ok, err := c.Has("k1")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := c.Remove("k1")
	require.NoError(t, err)
	assert.True(t, removed)

	ok, err = c.Has("k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChunkedStorageEmptyValue(t *testing.T) {
	c, err := NewChunkedStorage(":memory:", 4)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Store("empty", bytes.NewReader(nil)))
	size, err := c.Size("empty")
	require.NoError(t, err)
	assert.EqualValues(t, 0, size)
}

func TestChunkedStorageOverwriteDropsPriorChunks(t *testing.T) {
	c, err := NewChunkedStorage(":memory:", 4)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Store("k", bytes.NewReader(bytes.Repeat([]byte("a"), 20))))
	require.NoError(t, c.Store("k", bytes.NewReader([]byte("short"))))

	size, err := c.Size("k")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)
}
