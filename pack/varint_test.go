package pack

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func byteFeeder(b []byte) func() (byte, error) {
	r := bytes.NewReader(b)
	return func() (byte, error) { return r.ReadByte() }
}

func TestEntryHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		t    entryType
		size uint64
	}{
		{entryBlob, 0},
		{entryBlob, 15},
		{entryTree, 16},
		{entryCommit, 1 << 20},
		{entryOfsDelta, 1<<35 + 7},
	}
	for _, c := range cases {
		raw := writeEntryHeader(c.t, c.size)
		gotT, gotSize, n, err := readEntryHeader(byteFeeder(raw))
		require.NoError(t, err)
		assert.Equal(t, c.t, gotT)
		assert.Equal(t, c.size, gotSize)
		assert.Equal(t, len(raw), n)
	}
}

func TestOffsetDeltaRoundTrip(t *testing.T) {
	for _, dist := range []uint64{0, 1, 127, 128, 16383, 16384, 1 << 25} {
		raw := writeOffsetDelta(dist)
		got, n, err := readOffsetDelta(byteFeeder(raw))
		require.NoError(t, err)
		assert.Equal(t, dist, got)
		assert.Equal(t, len(raw), n)
	}
}

func TestSizeVarintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 40} {
		raw := writeSizeVarint(v)
		got, err := readSizeVarint(byteFeeder(raw))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
