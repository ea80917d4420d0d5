package gitcore

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencore-vcs/gitcore/object"
)

func mustOpen(t *testing.T) *Repository {
	t.Helper()
	fs := memfs.New()
	repo, err := Init(fs, true, Options{})
	require.NoError(t, err)
	return repo
}

func TestInitWritesBareConfig(t *testing.T) {
	repo := mustOpen(t)
	assert.True(t, repo.Config.Core.Bare)
	assert.Equal(t, 0, repo.Config.Core.RepositoryFormatVersion)
}

func TestOpenReopensBareConfig(t *testing.T) {
	fs := memfs.New()
	_, err := Init(fs, true, Options{})
	require.NoError(t, err)

	repo, err := Open(fs, Options{})
	require.NoError(t, err)
	assert.True(t, repo.Config.Core.Bare)
}

func TestLooseObjectRoundTripsThroughComposedStore(t *testing.T) {
	repo := mustOpen(t)
	id, err := repo.Objects.Blobs.Store(bytes.NewReader([]byte("hello")))
	require.NoError(t, err)

	r, err := repo.Objects.Blobs.Load(id)
	require.NoError(t, err)
	defer r.Close()
	got := make([]byte, 5)
	_, err = r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestSetRefAndRunGC(t *testing.T) {
	repo := mustOpen(t)

	blobID, err := repo.Objects.Blobs.Store(bytes.NewReader([]byte("keep me")))
	require.NoError(t, err)
	treeID, err := repo.Objects.Trees.Store(&object.Tree{
		Entries: []object.TreeEntry{{Name: "f.txt", Mode: object.Regular, ID: blobID}},
	})
	require.NoError(t, err)
	sig := object.Signature{Name: "Test", Email: "t@example.com", When: 1700000000, TZ: "+0000"}
	commitID, err := repo.Objects.Commits.Store(&object.Commit{
		TreeID:    treeID,
		Author:    sig,
		Committer: sig,
		Message:   "initial",
	})
	require.NoError(t, err)

	danglingID, err := repo.Objects.Blobs.Store(bytes.NewReader([]byte("dangling")))
	require.NoError(t, err)

	require.NoError(t, repo.Refs.Set("refs/heads/main", commitID))

	report, err := repo.GC.RunGC(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)

	has, err := repo.Objects.Has(commitID)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.Objects.Has(danglingID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStageAndFlushPendingPublishesPack(t *testing.T) {
	repo := mustOpen(t)

	id := object.Identity(object.BlobType, []byte("packed content"))
	repo.StagePending(id, object.BlobType, []byte("packed content"), object.ZeroID)

	require.NoError(t, repo.FlushPending(context.Background(), true))
	assert.Len(t, repo.PackDirectory().Names(), 1)

	has, err := repo.Objects.Has(id)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestFlushPendingNoopWhenEmpty(t *testing.T) {
	repo := mustOpen(t)
	require.NoError(t, repo.FlushPending(context.Background(), true))
	assert.Empty(t, repo.PackDirectory().Names())
}

func TestConsolidateDeltasRewritesDeltaWithUnreachableBase(t *testing.T) {
	repo := mustOpen(t)

	base := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 3)
	target := append(append([]byte(nil), base...), []byte("one more sentence at the end.")...)

	baseID := object.Identity(object.BlobType, base)
	targetID := object.Identity(object.BlobType, target)

	repo.StagePending(baseID, object.BlobType, base, object.ZeroID)
	repo.StagePending(targetID, object.BlobType, target, baseID)
	require.NoError(t, repo.FlushPending(context.Background(), true))

	records := repo.deltas.Records()
	require.Len(t, records, 1, "expected target to be stored as a delta against base")
	assert.Equal(t, targetID, records[0].TargetKey)

	n, err := repo.ConsolidateDeltas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "base is unreachable (no ref points to it), so the delta should be consolidated")

	assert.Empty(t, repo.deltas.Records())

	has, err := repo.Objects.Has(targetID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestFlushPendingRespectsThresholdWithoutForce(t *testing.T) {
	repo := mustOpen(t)
	repo.maxObjects = 10

	id := object.Identity(object.BlobType, []byte("x"))
	repo.StagePending(id, object.BlobType, []byte("x"), object.ZeroID)

	require.NoError(t, repo.FlushPending(context.Background(), false))
	assert.Empty(t, repo.PackDirectory().Names())

	require.NoError(t, repo.FlushPending(context.Background(), true))
	assert.Len(t, repo.PackDirectory().Names(), 1)
}
