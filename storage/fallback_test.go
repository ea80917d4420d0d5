package storage

import (
	"bytes"
	"io"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackStorageReadsThroughToSecondary(t *testing.T) {
	primary := NewShardedStorage(memfs.New())
	secondary := NewShardedStorage(memfs.New())
	key := "0123456789abcdef0123456789abcdef01234567"[:40]
	require.NoError(t, secondary.Store(key, bytes.NewReader([]byte("from secondary"))))

	f := NewFallbackStorage(primary, secondary)

	ok, err := f.Has(key)
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := f.Load(key, FullRange)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, "from secondary", string(got))
}

func TestFallbackStoragePrefersPrimary(t *testing.T) {
	primary := NewShardedStorage(memfs.New())
	secondary := NewShardedStorage(memfs.New())
	key := "0123456789abcdef0123456789abcdef01234567"[:40]
	require.NoError(t, primary.Store(key, bytes.NewReader([]byte("from primary"))))
	require.NoError(t, secondary.Store(key, bytes.NewReader([]byte("from secondary"))))

	f := NewFallbackStorage(primary, secondary)
	r, err := f.Load(key, FullRange)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, "from primary", string(got))
}

func TestFallbackStorageKeysChainsBoth(t *testing.T) {
	primary := NewShardedStorage(memfs.New())
	secondary := NewShardedStorage(memfs.New())
	k1 := "0000000000000000000000000000000000000a"
	k2 := "0000000000000000000000000000000000000b"
	require.NoError(t, primary.Store(k1, bytes.NewReader(nil)))
	require.NoError(t, secondary.Store(k2, bytes.NewReader(nil)))

	f := NewFallbackStorage(primary, secondary)
	assert.ElementsMatch(t, []string{k1, k2}, allKeys(t, f))
}
