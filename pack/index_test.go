package pack

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencore-vcs/gitcore/object"
)

func idFor(t *testing.T, s string) object.ID {
	t.Helper()
	return object.Identity(object.BlobType, []byte(s))
}

func TestIndexV1RoundTrip(t *testing.T) {
	entries := []IndexEntry{
		{ID: idFor(t, "c"), Offset: 300, CRC32: 3},
		{ID: idFor(t, "a"), Offset: 12, CRC32: 1},
		{ID: idFor(t, "b"), Offset: 120, CRC32: 2},
	}
	pack := object.Identity(object.CommitType, []byte("pack"))

	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, entries, pack, false))

	idx, err := ReadIndex(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, len(entries), idx.Count())
	assert.Equal(t, pack, idx.PackChecksum())

	sorted := sortEntries(entries)
	assert.Equal(t, sorted[0].ID, idx.IDs()[0])

	for _, e := range entries {
		off, ok, err := idx.FindOffset(e.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, e.Offset, off)
	}
}

func TestIndexV2ForcedAndCRC32Lookup(t *testing.T) {
	entries := []IndexEntry{
		{ID: idFor(t, "x"), Offset: 1000, CRC32: 0xdeadbeef},
		{ID: idFor(t, "y"), Offset: 2000, CRC32: 0x1234},
	}
	pack := object.Identity(object.TreeType, []byte("treepack"))

	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, entries, pack, true))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), indexV2Magic))

	idx, err := ReadIndex(buf.Bytes())
	require.NoError(t, err)

	for _, e := range entries {
		crc, ok, err := idx.FindCRC32(e.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, e.CRC32, crc)
	}

	_, ok, err := idx.FindOffset(idFor(t, "not-present"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexV2OffsetOverflowTable(t *testing.T) {
	bigOffset := uint64(1) << 33
	entries := []IndexEntry{
		{ID: idFor(t, "big"), Offset: bigOffset, CRC32: 7},
		{ID: idFor(t, "small"), Offset: 42, CRC32: 9},
	}
	pack := object.Identity(object.TagType, []byte("tagpack"))

	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, entries, pack, false))
	// an offset that doesn't fit in 31 bits forces V2 even without forceV2
	assert.True(t, bytes.HasPrefix(buf.Bytes(), indexV2Magic))

	idx, err := ReadIndex(buf.Bytes())
	require.NoError(t, err)

	off, ok, err := idx.FindOffset(idFor(t, "big"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bigOffset, off)
}

func TestFanoutIsMonotonic(t *testing.T) {
	entries := []IndexEntry{
		{ID: idFor(t, "1"), Offset: 1},
		{ID: idFor(t, "2"), Offset: 2},
		{ID: idFor(t, "3"), Offset: 3},
	}
	sorted := sortEntries(entries)
	fanout := fanoutTable(sorted)
	for i := 1; i < 256; i++ {
		assert.GreaterOrEqual(t, fanout[i], fanout[i-1])
	}
	assert.Equal(t, uint32(len(entries)), fanout[255])
}
