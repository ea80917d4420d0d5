package pack

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeGitDeltaRoundTrip(t *testing.T) {
	d := &Delta{
		BaseLen:   10,
		TargetLen: 8,
		Instrs: []Instr{
			{Kind: InstrCopy, Start: 0, Len: 4},
			{Kind: InstrInsert, Data: []byte("xy")},
			{Kind: InstrCopy, Start: 6, Len: 2},
		},
	}
	require.NoError(t, d.Validate())

	raw, err := EncodeGitDelta(d)
	require.NoError(t, err)

	decoded, err := DecodeGitDelta(raw)
	require.NoError(t, err)
	assert.Equal(t, d.BaseLen, decoded.BaseLen)
	assert.Equal(t, d.TargetLen, decoded.TargetLen)
	assert.Equal(t, d.Instrs, decoded.Instrs)
}

func TestApplyGitDeltaReconstructsTarget(t *testing.T) {
	base := []byte("the quick brown fox jumps over the lazy dog")
	target := []byte("the quick brown cat jumps over the lazy dog and runs")

	delta, ok := CreateDelta(base, target, DeltaOptions{MaxRatio: 1, MinObjectSize: 1, Window: 4})
	require.True(t, ok)

	got, err := ApplyGitDelta(base, delta)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestApplyGitDeltaRejectsWrongBaseLength(t *testing.T) {
	d := &Delta{BaseLen: 5, TargetLen: 2, Instrs: []Instr{{Kind: InstrInsert, Data: []byte("ab")}}}
	_, err := ApplyGitDelta([]byte("wrongsize"), d)
	require.Error(t, err)
}

func TestValidateRejectsOutOfBoundsCopy(t *testing.T) {
	d := &Delta{BaseLen: 4, TargetLen: 3, Instrs: []Instr{{Kind: InstrCopy, Start: 2, Len: 3}}}
	require.Error(t, d.Validate())
}

func TestCreateDeltaDeclinesBelowMinObjectSize(t *testing.T) {
	base := bytes.Repeat([]byte("a"), 100)
	target := []byte("ab")
	_, ok := CreateDelta(base, target, DeltaOptions{MinObjectSize: 64, Window: 16, MaxRatio: 1})
	assert.False(t, ok)
}

func TestCreateDeltaDeclinesWhenNotWorthwhile(t *testing.T) {
	base := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	target := []byte("bcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ!!!")
	_, ok := CreateDelta(base, target, DeltaOptions{MaxRatio: 0.1, MinObjectSize: 1, Window: 16})
	assert.False(t, ok)
}
