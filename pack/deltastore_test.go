package pack

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencore-vcs/gitcore/object"
)

// fakePackDirectory publishes each flushed pack to an in-memory map,
// standing in for whatever real pack directory wires PackDeltaStore in
// the full repository composition.
type fakePackDirectory struct {
	packs map[string][]byte
	idxs  map[string]*Index
}

func newFakePackDirectory() *fakePackDirectory {
	return &fakePackDirectory{packs: map[string][]byte{}, idxs: map[string]*Index{}}
}

func (d *fakePackDirectory) Publish(ctx context.Context, result *FlushResult) error {
	idx, err := ReadIndex(result.IndexBytes)
	if err != nil {
		return err
	}
	name := firstDeltaPackNameOrDefault(result)
	d.packs[name] = result.PackBytes
	d.idxs[name] = idx
	return nil
}

func firstDeltaPackNameOrDefault(result *FlushResult) string {
	if len(result.Deltas) > 0 {
		return result.Deltas[0].PackName
	}
	return "unnamed"
}

func (d *fakePackDirectory) Open(packName string) (*Packfile, error) {
	return NewPackfile(bytes.NewReader(d.packs[packName]), d.idxs[packName], 0), nil
}

func TestPackDeltaStoreStoresAndLoadsDelta(t *testing.T) {
	dir := newFakePackDirectory()
	fs := memfs.New()
	store, err := NewPackDeltaStore(dir, fs, "deltas.json", DeltaOptions{MaxRatio: 1, MinObjectSize: 1, Window: 8})
	require.NoError(t, err)
	store.saveDelay = time.Millisecond

	base := bytes.Repeat([]byte("alpha beta gamma delta epsilon "), 10)
	derived := append(append([]byte{}, base...), []byte("zeta")...)
	baseID := object.Identity(object.BlobType, base)
	derivedID := object.Identity(object.BlobType, derived)

	batch := store.StartUpdate()
	batch.StoreObject(baseID, object.BlobType, base)
	batch.StoreDelta(baseID, derivedID, object.BlobType, derived)
	require.NoError(t, batch.Close(context.Background()))

	assert.True(t, store.IsDelta(derivedID))
	assert.False(t, store.IsDelta(baseID))

	loaded, err := store.LoadDelta(derivedID)
	require.NoError(t, err)
	assert.Equal(t, baseID, loaded.BaseKey)

	reconstructed, err := ApplyGitDelta(base, loaded.Delta)
	require.NoError(t, err)
	assert.Equal(t, derived, reconstructed)

	info, err := store.GetDeltaChainInfo(derivedID, DefaultMaxChainDepth)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Depth)
	assert.Equal(t, baseID, info.BaseKey)

	require.NoError(t, store.Close())

	reopened, err := NewPackDeltaStore(dir, fs, "deltas.json", DeltaOptions{})
	require.NoError(t, err)
	assert.True(t, reopened.IsDelta(derivedID))
}

func TestPackDeltaStoreResolvesBaseFromEarlierBatch(t *testing.T) {
	dir := newFakePackDirectory()
	fs := memfs.New()
	store, err := NewPackDeltaStore(dir, fs, "deltas.json", DeltaOptions{MaxRatio: 1, MinObjectSize: 1, Window: 8})
	require.NoError(t, err)
	store.saveDelay = time.Millisecond

	base := bytes.Repeat([]byte("alpha beta gamma delta epsilon "), 10)
	derived := append(append([]byte{}, base...), []byte("zeta")...)
	baseID := object.Identity(object.BlobType, base)
	derivedID := object.Identity(object.BlobType, derived)

	// published stands in for whatever already-committed storage (loose or
	// an earlier pack) a real repository would consult for an object that
	// isn't part of the batch currently being flushed.
	published := map[object.ID][]byte{}
	store.SetBaseResolver(func(id object.ID) ([]byte, bool, error) {
		content, ok := published[id]
		return content, ok, nil
	})

	first := store.StartUpdate()
	first.StoreObject(baseID, object.BlobType, base)
	require.NoError(t, first.Close(context.Background()))
	published[baseID] = base

	// baseID is not staged in this second batch at all: without the base
	// resolver, StoreDelta here would silently fall back to whole-object
	// storage.
	second := store.StartUpdate()
	second.StoreDelta(baseID, derivedID, object.BlobType, derived)
	require.NoError(t, second.Close(context.Background()))

	require.True(t, store.IsDelta(derivedID), "expected delta against a base from an earlier batch to be recognized")

	loaded, err := store.LoadDelta(derivedID)
	require.NoError(t, err)
	assert.Equal(t, baseID, loaded.BaseKey)

	reconstructed, err := ApplyGitDelta(base, loaded.Delta)
	require.NoError(t, err)
	assert.Equal(t, derived, reconstructed)
}

func TestPackDeltaStoreRemoveDelta(t *testing.T) {
	dir := newFakePackDirectory()
	fs := memfs.New()
	store, err := NewPackDeltaStore(dir, fs, "deltas.json", DeltaOptions{MaxRatio: 1, MinObjectSize: 1, Window: 8})
	require.NoError(t, err)
	store.saveDelay = time.Millisecond

	base := bytes.Repeat([]byte("x"), 200)
	derived := append(append([]byte{}, base...), []byte("y")...)
	baseID := object.Identity(object.BlobType, base)
	derivedID := object.Identity(object.BlobType, derived)

	batch := store.StartUpdate()
	batch.StoreObject(baseID, object.BlobType, base)
	batch.StoreDelta(baseID, derivedID, object.BlobType, derived)
	require.NoError(t, batch.Close(context.Background()))
	require.True(t, store.IsDelta(derivedID))

	store.RemoveDelta(derivedID)
	assert.False(t, store.IsDelta(derivedID))
}
